package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/config"
	"github.com/opencode-ai/toolguard/internal/permission"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and edit permission rules",
	Long: `Inspect and edit permission rules.

Subcommands:
  list     List every rule in effect, in evaluation order
  lint     Report rules that are unlikely to do what was meant
  diff     Show how a settings file would change the rules
  add      Add rules to a settings file`,
}

var (
	rulesJSON  bool
	diffScope  string
	addScope   string
	addDeny    bool
	lintStrict bool
)

var rulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every rule in effect",
	Args:    cobra.NoArgs,
	RunE:    runRulesList,
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Report suspicious rules",
	Args:  cobra.NoArgs,
	RunE:  runRulesLint,
}

var rulesDiffCmd = &cobra.Command{
	Use:   "diff <settings-file>",
	Short: "Show how a settings file would change the rules",
	Long: `Show how the rule set would change if <settings-file> replaced the
settings of --scope (projectSettings by default).`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesDiff,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <rule>...",
	Short: "Add rules to a settings file",
	Long: `Add allow rules, or deny rules with --deny, to the settings file of
--scope (localProjectSettings by default). The file is created if needed.

Example:
  toolguard rules add 'Bash(npm run test:*)' 'Edit(src/**)'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRulesAdd,
}

func init() {
	rulesListCmd.Flags().BoolVar(&rulesJSON, "json", false, "Print the rule set as JSON")
	rulesLintCmd.Flags().BoolVar(&lintStrict, "strict", false, "Exit with status 1 when findings are reported")
	rulesDiffCmd.Flags().StringVar(&diffScope, "scope", string(permission.ScopeProjectSettings), "Scope the file would replace")
	rulesAddCmd.Flags().StringVar(&addScope, "scope", string(permission.ScopeLocalProjectSettings), "Scope to write to (userSettings|projectSettings|localProjectSettings)")
	rulesAddCmd.Flags().BoolVar(&addDeny, "deny", false, "Add deny rules instead of allow rules")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesLintCmd)
	rulesCmd.AddCommand(rulesDiffCmd)
	rulesCmd.AddCommand(rulesAddCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	rs := a.aggregator.Current()
	out := cmd.OutOrStdout()

	if rulesJSON {
		data, err := json.MarshalIndent(rs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(rs.Rules) == 0 {
		fmt.Fprintln(out, "No rules configured.")
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range rs.Rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", behaviorLabel(r.RuleBehavior), r.RuleValue, color.HiBlackString(string(r.Source)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range rs.Ignore {
		for _, p := range s.Patterns {
			fmt.Fprintf(out, "%s %s %s\n", color.CyanString("ignore"), p, color.HiBlackString(string(s.Scope)))
		}
	}
	return nil
}

func runRulesLint(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{connectPrompt: true})
	if err != nil {
		return err
	}
	defer a.close()

	findings := permission.Lint(a.aggregator.Current(), a.mcpToolNames()...)
	findings = append(findings, permission.LintRaw(permission.ScopeCLIArgument, permission.BehaviorAllow, cliAllow)...)
	findings = append(findings, permission.LintRaw(permission.ScopeCLIArgument, permission.BehaviorDeny, cliDeny)...)
	for _, scope := range permission.Scopes() {
		settings, _, err := a.loader.ReadSettings(scope)
		if err != nil || settings == nil || settings.Permissions == nil {
			continue
		}
		findings = append(findings, permission.LintRaw(scope, permission.BehaviorAllow, settings.Permissions.Allow)...)
		findings = append(findings, permission.LintRaw(scope, permission.BehaviorDeny, settings.Permissions.Deny)...)
	}
	out := cmd.OutOrStdout()
	if len(findings) == 0 {
		fmt.Fprintln(out, color.GreenString("No problems found."))
		return nil
	}

	for _, f := range findings {
		fmt.Fprintf(out, "%s %s (%s): %s\n", color.YellowString("warning"), f.Rule.RuleValue, f.Rule.Source, f.Message)
	}
	if lintStrict {
		return &ExitError{Code: 1}
	}
	return nil
}

func runRulesDiff(cmd *cobra.Command, args []string) error {
	scope := permission.Scope(diffScope)
	switch scope {
	case permission.ScopeUserSettings, permission.ScopeProjectSettings,
		permission.ScopeLocalProjectSettings, permission.ScopePolicySettings:
	default:
		return fmt.Errorf("scope %q has no settings file", diffScope)
	}
	if _, err := os.Stat(args[0]); err != nil {
		return err
	}

	ctx := cmd.Context()
	current, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer current.close()

	proposed, err := newApp(ctx, appOptions{
		loaderOpts: []config.Option{config.WithScopeFile(scope, args[0])},
	})
	if err != nil {
		return err
	}
	defer proposed.close()

	diff := permission.Diff(current.aggregator.Current(), proposed.aggregator.Current())
	out := cmd.OutOrStdout()
	if diff == "" {
		fmt.Fprintln(out, "No changes.")
		return nil
	}
	fmt.Fprint(out, colorDiff(diff))
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	scope := permission.Scope(addScope)
	switch scope {
	case permission.ScopeUserSettings, permission.ScopeProjectSettings, permission.ScopeLocalProjectSettings:
	default:
		return fmt.Errorf("cannot add rules to scope %q", addScope)
	}

	behavior := permission.BehaviorAllow
	if addDeny {
		behavior = permission.BehaviorDeny
	}

	for _, raw := range args {
		if v := permission.ParseRuleValue(raw); v.Malformed() {
			return fmt.Errorf("malformed rule %q", raw)
		}
	}

	rootDir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	loader := config.NewLoader(rootDir, config.WithEnv(env))
	path, err := loader.AddRules(scope, behavior, args...)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %d %s rule(s) to %s\n", len(args), behavior, path)
	return nil
}

// colorDiff colors added lines green and removed lines red.
func colorDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			sb.WriteString(color.GreenString("%s", line))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(color.RedString("%s", line))
		default:
			sb.WriteString(line)
		}
	}
	return sb.String()
}
