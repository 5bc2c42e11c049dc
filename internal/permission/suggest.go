package permission

import (
	"net/url"
	"path"
)

// BuildPattern creates a prefix rule content for a command.
// For "git commit -m msg", returns "git commit:*".
// For "ls -la", returns "ls:*".
// Dangerous commands get their exact text instead.
func BuildPattern(cmd BashCommand) string {
	if IsDangerousCommand(cmd.Name) {
		return cmd.Text
	}
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + prefixSuffix
	}
	return cmd.Name + prefixSuffix
}

// BuildPatterns creates rule contents for multiple commands, deduplicated.
func BuildPatterns(commands []BashCommand) []string {
	seen := make(map[string]bool)
	var patterns []string

	for _, cmd := range commands {
		// "cd" only changes the working directory of the line itself.
		if cmd.Name == "cd" || cmd.Name == "" {
			continue
		}

		pattern := BuildPattern(cmd)
		if !seen[pattern] {
			seen[pattern] = true
			patterns = append(patterns, pattern)
		}
	}

	return patterns
}

// Suggest proposes allow rules that would have resolved an invocation.
// Suggestions already present as local deny rules are dropped.
func Suggest(rs *RuleSet, inv Invocation) []RuleValue {
	content := invocationContent(inv)
	tool := inv.ToolName

	var contents []string
	switch {
	case tool == ToolBash:
		contents = bashSuggestions(content)
	case IsPathTool(tool):
		rel, ok := RelativePath(content, rs.RootDir)
		if !ok {
			return nil
		}
		if IsEditTool(tool) {
			tool = ToolEdit
		} else {
			tool = ToolRead
		}
		if dir := path.Dir(rel); dir != "." {
			contents = []string{dir + "/**"}
		} else if rel != "." {
			contents = []string{rel}
		}
	case tool == ToolWebFetch:
		if u, err := url.Parse(content); err == nil && u.Hostname() != "" {
			contents = []string{domainPrefix + u.Hostname()}
		}
	}

	if len(contents) == 0 {
		return []RuleValue{{ToolName: tool}}
	}

	contents = UnignoredPatterns(contents, tool, rs)
	out := make([]RuleValue, 0, len(contents))
	for _, c := range contents {
		out = append(out, RuleValue{ToolName: tool, RuleContent: c})
	}
	return out
}

func bashSuggestions(command string) []string {
	if command == "" {
		return nil
	}
	leaves, err := ParseBashCommand(command)
	if err != nil || len(leaves) == 0 {
		return []string{command}
	}
	for _, leaf := range leaves {
		if leaf.Dynamic {
			return []string{command}
		}
	}
	if patterns := BuildPatterns(leaves); len(patterns) > 0 {
		return patterns
	}
	return []string{command}
}
