package permission

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance is the largest edit distance for a "did you mean" hint.
const maxSuggestDistance = 3

// Finding is a problem found in a rule set.
type Finding struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Rule, f.Message)
}

// Lint checks a rule set for rules that are unlikely to do what their
// author meant. knownTools extends KnownTools, for example with the MCP
// tools of configured servers.
func Lint(rs *RuleSet, knownTools ...string) []Finding {
	known := make(map[string]bool, len(KnownTools)+len(knownTools))
	for _, t := range KnownTools {
		known[t] = true
	}
	for _, t := range knownTools {
		known[t] = true
	}

	deny := make(map[RuleValue]bool)
	for _, r := range rs.Rules {
		if r.RuleBehavior == BehaviorDeny {
			deny[r.RuleValue] = true
		}
	}

	var findings []Finding
	for _, r := range rs.Rules {
		v := r.RuleValue
		if v.Malformed() {
			findings = append(findings, Finding{r, "malformed rule, matches nothing"})
			continue
		}

		if !known[v.ToolName] && !strings.HasPrefix(v.ToolName, mcpToolPrefix) {
			msg := fmt.Sprintf("unknown tool %q", v.ToolName)
			if guess := closestTool(v.ToolName, known); guess != "" {
				msg += fmt.Sprintf(", did you mean %q?", guess)
			}
			findings = append(findings, Finding{r, msg})
		}

		if r.RuleBehavior == BehaviorAllow && deny[v] {
			findings = append(findings, Finding{r, "shadowed by an identical deny rule"})
		}

		if v.HasContent() && IsPathTool(v.ToolName) && strings.Contains(v.RuleContent, "..") {
			findings = append(findings, Finding{r, "path rules are relative to the project root; \"..\" never matches"})
		}
	}
	return findings
}

// closestTool returns the known tool name nearest to name, or "" if none is
// close enough. Comparison is case-insensitive.
func closestTool(name string, known map[string]bool) string {
	best, bestDist := "", maxSuggestDistance+1
	lower := strings.ToLower(name)
	for t := range known {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(t))
		if d < bestDist || (d == bestDist && t < best) {
			best, bestDist = t, d
		}
	}
	if bestDist > maxSuggestDistance {
		return ""
	}
	return best
}

// LintRaw checks rule strings as written in one scope, for problems that
// parsing erases. "Tool()" parses to a rule for every use of Tool.
func LintRaw(source Scope, behavior Behavior, raw []string) []Finding {
	var findings []Finding
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if !strings.HasSuffix(s, "()") {
			continue
		}
		v := ParseRuleValue(s)
		if v.Malformed() || v.HasContent() {
			continue
		}
		findings = append(findings, Finding{
			Rule:    Rule{Source: source, RuleBehavior: behavior, RuleValue: v},
			Message: fmt.Sprintf("empty content %q applies to every use of %s", s, v.ToolName),
		})
	}
	return findings
}
