package permission

import (
	"strings"
)

// ParseRuleValue parses "Tool" or "Tool(content)" into a RuleValue.
//
// Parsing never fails. Anything malformed (unbalanced or misplaced
// parentheses, empty tool name) becomes a RuleValue whose ToolName is the
// whole raw string, which matches no real tool and so fails closed.
//
//	"Bash"              -> {ToolName: "Bash"}
//	"Bash(npm test:*)"  -> {ToolName: "Bash", RuleContent: "npm test:*"}
//	"Bash(oops"         -> {ToolName: "Bash(oops"}
func ParseRuleValue(raw string) RuleValue {
	open := strings.IndexByte(raw, '(')
	if open <= 0 || !strings.HasSuffix(raw, ")") {
		return RuleValue{ToolName: raw}
	}

	content := raw[open+1 : len(raw)-1]
	if !balanced(content) {
		return RuleValue{ToolName: raw}
	}
	return RuleValue{ToolName: raw[:open], RuleContent: content}
}

// balanced reports whether every ')' in s closes an earlier '('.
func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// String renders the rule value back into its settings form.
func (v RuleValue) String() string {
	if v.RuleContent == "" {
		return v.ToolName
	}
	return v.ToolName + "(" + v.RuleContent + ")"
}

// Malformed reports whether the value came from a string the parser could
// not split into tool name and content.
func (v RuleValue) Malformed() bool {
	return strings.ContainsAny(v.ToolName, "()")
}

// ParseRules parses raw rule strings from one scope into rules with the
// given behavior. Empty strings are skipped.
func ParseRules(source Scope, behavior Behavior, raw []string) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		rules = append(rules, Rule{
			Source:       source,
			RuleBehavior: behavior,
			RuleValue:    ParseRuleValue(s),
		})
	}
	return rules
}
