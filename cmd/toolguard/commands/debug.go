package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/permission"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting toolguard settings and setup.`,
}

var debugSettingsCmd = &cobra.Command{
	Use:     "settings",
	Aliases: []string{"config"},
	Short:   "Show the resolved settings and the file of each scope",
	Args:    cobra.NoArgs,
	RunE:    runDebugSettings,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show settings and data paths",
	Args:  cobra.NoArgs,
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugSettingsCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugSettings(cmd *cobra.Command, args []string) error {
	rootDir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	loader := config.NewLoader(rootDir, config.WithEnv(env), config.WithCLIRules(cliAllow, cliDeny))
	resolved, err := loader.Resolve(cmd.Context())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	rootDir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	paths := config.GetPaths()
	loader := config.NewLoader(rootDir, config.WithEnv(env))

	fmt.Fprintln(out, "toolguard paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Project:  %s\n", rootDir)
	fmt.Fprintf(out, "  Config:   %s\n", env.UserConfigDir())
	fmt.Fprintf(out, "  Data:     %s\n", paths.Data)
	fmt.Fprintf(out, "  State:    %s\n", paths.State)
	fmt.Fprintf(out, "  Audit:    %s\n", env.AuditPath())
	fmt.Fprintf(out, "  Logs:     %s\n", paths.LogPath())
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Settings files:")
	for _, scope := range permission.Scopes() {
		path := loader.SettingsPath(scope)
		if path == "" {
			continue
		}
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "present"
		}
		fmt.Fprintf(out, "  %-22s %s (%s)\n", scope, path, state)
	}
	return nil
}
