package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolguard/internal/permission"
)

// Exit codes of the check command.
const (
	exitAllow = 0
	exitDeny  = 2
	exitAsk   = 3
)

var (
	checkInput   string
	checkJSON    bool
	checkSession string
	checkNoMCP   bool
)

var checkCmd = &cobra.Command{
	Use:   "check <tool> [content]",
	Short: "Decide a single tool invocation",
	Long: `Decide whether a tool invocation would be allowed.

The content is the command for Bash, the path for file tools and the URL
for WebFetch. Alternatively pass the raw tool input with --input.

Exit status is 0 for allow, 2 for deny and 3 for ask.

Examples:
  toolguard check Bash "git push origin main"
  toolguard check Read src/main.go
  toolguard check Edit --input '{"file_path": "docs/README.md"}'
  toolguard check --deny 'Bash(curl:*)' Bash "curl example.com"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkInput, "input", "", "Raw tool input as a JSON object")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the decision as JSON")
	checkCmd.Flags().StringVar(&checkSession, "session", "", "Session ID recorded with the decision")
	checkCmd.Flags().BoolVar(&checkNoMCP, "no-prompt-tool", false, "Do not consult the permission prompt tool")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	inv := permission.Invocation{ToolName: args[0], SessionID: checkSession}
	if len(args) == 2 {
		inv.Content = args[1]
	}
	if checkInput != "" {
		if err := json.Unmarshal([]byte(checkInput), &inv.Input); err != nil {
			return fmt.Errorf("invalid --input: %w", err)
		}
		if inv.Content == "" {
			inv.Content = permission.ContentFromInput(inv.ToolName, inv.Input)
		}
	}

	a, err := newApp(ctx, appOptions{connectPrompt: !checkNoMCP})
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.checker.Evaluate(ctx, inv)
	if err != nil {
		return err
	}

	if checkJSON {
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		printDecision(cmd, inv, d)
	}

	switch d.Behavior {
	case permission.BehaviorAllow:
		return nil
	case permission.BehaviorDeny:
		return &ExitError{Code: exitDeny}
	default:
		return &ExitError{Code: exitAsk}
	}
}

func printDecision(cmd *cobra.Command, inv permission.Invocation, d *permission.Decision) {
	out := cmd.OutOrStdout()

	subject := inv.ToolName
	if inv.Content != "" {
		subject += " " + color.New(color.Bold).Sprint(inv.Content)
	}
	fmt.Fprintf(out, "%s %s\n", behaviorLabel(d.Behavior), subject)

	if r := d.DecisionReason; r != nil {
		switch {
		case d.Rule != nil:
			fmt.Fprintf(out, "  %s rule %s from %s\n", color.HiBlackString("by"), d.Rule.RuleValue, d.Rule.Source)
		case r.ToolName != "":
			fmt.Fprintf(out, "  %s prompt tool %s\n", color.HiBlackString("by"), r.ToolName)
		default:
			fmt.Fprintf(out, "  %s %s\n", color.HiBlackString("by"), r.Type)
		}
	}

	if len(d.RuleSuggestions) > 0 {
		suggestions := make([]string, len(d.RuleSuggestions))
		for i, s := range d.RuleSuggestions {
			suggestions[i] = s.String()
		}
		fmt.Fprintf(out, "  %s %s\n", color.HiBlackString("suggest"), strings.Join(suggestions, ", "))
	}
}

func behaviorLabel(b permission.Behavior) string {
	switch b {
	case permission.BehaviorAllow:
		return color.New(color.FgGreen, color.Bold).Sprint("allow")
	case permission.BehaviorDeny:
		return color.New(color.FgRed, color.Bold).Sprint("deny ")
	default:
		return color.New(color.FgYellow, color.Bold).Sprint("ask  ")
	}
}
