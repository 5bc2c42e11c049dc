package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRuleValue(t *testing.T) {
	tests := []struct {
		raw      string
		expected RuleValue
	}{
		{"Bash", RuleValue{ToolName: "Bash"}},
		{"Bash(npm test:*)", RuleValue{ToolName: "Bash", RuleContent: "npm test:*"}},
		{"Edit(src/**)", RuleValue{ToolName: "Edit", RuleContent: "src/**"}},
		{"Bash(echo (nested))", RuleValue{ToolName: "Bash", RuleContent: "echo (nested)"}},
		{"Bash()", RuleValue{ToolName: "Bash"}},
		{"mcp__github__create_issue", RuleValue{ToolName: "mcp__github__create_issue"}},
		// Malformed strings degrade to a whole-string tool name.
		{"Bash(oops", RuleValue{ToolName: "Bash(oops"}},
		{"Bash(a))", RuleValue{ToolName: "Bash(a))"}},
		{"Bash(a)b", RuleValue{ToolName: "Bash(a)b"}},
		{"(content)", RuleValue{ToolName: "(content)"}},
		{"Bash)(", RuleValue{ToolName: "Bash)("}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseRuleValue(tt.raw))
		})
	}
}

func TestRuleValue_String(t *testing.T) {
	for _, raw := range []string{"Bash", "Bash(npm test:*)", "Edit(src/**)"} {
		assert.Equal(t, raw, ParseRuleValue(raw).String())
	}
}

func TestRuleValue_Malformed(t *testing.T) {
	assert.False(t, ParseRuleValue("Bash(ls)").Malformed())
	assert.True(t, ParseRuleValue("Bash(ls").Malformed())
}

func TestParseRules(t *testing.T) {
	rules := ParseRules(ScopeProjectSettings, BehaviorDeny, []string{"Bash(rm:*)", "  ", "", " Read(.env) "})

	assert.Equal(t, []Rule{
		{Source: ScopeProjectSettings, RuleBehavior: BehaviorDeny, RuleValue: RuleValue{ToolName: "Bash", RuleContent: "rm:*"}},
		{Source: ScopeProjectSettings, RuleBehavior: BehaviorDeny, RuleValue: RuleValue{ToolName: "Read", RuleContent: ".env"}},
	}, rules)
}

func TestScopePrecedence(t *testing.T) {
	scopes := Scopes()
	assert.Equal(t, []Scope{
		ScopeCLIArgument,
		ScopeLocalProjectSettings,
		ScopeProjectSettings,
		ScopePolicySettings,
		ScopeUserSettings,
		ScopeSession,
	}, scopes)

	for i, s := range scopes {
		assert.Equal(t, i, s.Precedence())
		assert.True(t, s.Valid())
	}
	assert.False(t, Scope("flagSettings").Valid())
}

func TestToolMatches(t *testing.T) {
	tests := []struct {
		rule, tool string
		expected   bool
	}{
		{"Bash", "Bash", true},
		{"Bash", "bash", false},
		{"Edit", "Write", true},
		{"Edit", "MultiEdit", true},
		{"Edit", "Read", false},
		{"Read", "Grep", true},
		{"Read", "Edit", false},
		{"Write", "Edit", false},
		{"mcp__github", "mcp__github__create_issue", true},
		{"mcp__github", "mcp__githubx__create_issue", false},
		{"mcp__github__create_issue", "mcp__github__create_issue", true},
		{"mcp__github__create_issue", "mcp__github__delete_repo", false},
	}

	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.tool, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToolMatches(tt.rule, tt.tool))
		})
	}
}

func TestContentFromInput(t *testing.T) {
	assert.Equal(t, "ls -la", ContentFromInput(ToolBash, map[string]any{"command": "ls -la"}))
	assert.Equal(t, "src/a.go", ContentFromInput(ToolEdit, map[string]any{"file_path": "src/a.go"}))
	assert.Equal(t, ".", ContentFromInput(ToolGrep, map[string]any{"pattern": "TODO"}))
	assert.Equal(t, "", ContentFromInput("mcp__x__y", map[string]any{"a": 1}))
}

func TestInputFromContent(t *testing.T) {
	assert.Equal(t, map[string]any{"command": "ls -la"}, InputFromContent(ToolBash, "ls -la"))
	assert.Equal(t, map[string]any{"notebook_path": "a.ipynb"}, InputFromContent(ToolNotebookEdit, "a.ipynb"))
	assert.Equal(t, map[string]any{"content": "x"}, InputFromContent("mcp__x__y", "x"))
	assert.Empty(t, InputFromContent(ToolRead, ""))
}
