// Package commands provides the CLI commands for toolguard.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
	envFile   string
	noColor   bool
	cliAllow  []string
	cliDeny   []string
)

// env is the environment configuration loaded before every command.
var env config.Env

var rootCmd = &cobra.Command{
	Use:   "toolguard",
	Short: "Permission engine for agent tool invocations",
	Long: `toolguard decides whether an agent may run a tool invocation.

Rules come from the user, project, local and managed settings files, from
--allow/--deny flags and from approvals given during a session. Deny rules
always win, paths outside the project are refused, and ignored files are
hidden from read tools.

Run 'toolguard check Bash "git push"' to test a decision, or
'toolguard serve' to start the HTTP API.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR), overrides TOOLGUARD_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file before reading TOOLGUARD_*")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringSliceVar(&cliAllow, "allow", nil, "Allow rule for this run (repeatable)")
	rootCmd.PersistentFlags().StringSliceVar(&cliDeny, "deny", nil, "Deny rule for this run (repeatable)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("toolguard %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(debugCmd)
}

// setup loads .env files and the environment and initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		// Optional; a missing .env is not an error.
		_ = godotenv.Load(".env")
	}

	var err error
	env, err = config.LoadEnv()
	if err != nil {
		return err
	}

	level := env.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(level)
	cfg.Pretty = true
	cfg.LogToFile = env.LogFile
	cfg.LogDir = config.GetPaths().LogPath()
	switch {
	case printLogs:
	case env.LogFile:
		cfg.Output = io.Discard
	case cfg.Level < logging.WarnLevel:
		// Only warnings reach the terminal unless asked for.
		cfg.Level = logging.WarnLevel
	}
	logging.Init(cfg)

	if noColor {
		color.NoColor = true
	}
	return nil
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	logging.Close()
	if err == nil {
		return 0
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("error:"), exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	return 1
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
