package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoot = "/work/project"

func TestShouldIgnore_Builtins(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".", false},
		{".env", true},
		{"config/.secrets", true},
		{"/work/project/.git", true},
		{"src/main.go", false},
		{"pkg/__pycache__/mod.pyc", true},
		{"__pycache__", true},
		{"src/pycache/mod.py", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShouldIgnore(tt.path, testRoot, nil, nil))
		})
	}
}

// Any path whose base name starts with "." is ignored, except "." itself.
func TestShouldIgnore_DotfileInvariant(t *testing.T) {
	paths := []string{".a", "x/.b", "x/y/.c.d", "/abs/.hidden", "..hidden", "./.env"}
	for _, p := range paths {
		assert.True(t, ShouldIgnore(p, testRoot, nil, nil), p)
	}
	assert.False(t, ShouldIgnore(".", testRoot, nil, nil))
}

func TestShouldIgnore_ProjectPattern(t *testing.T) {
	scopes := []IgnoreScope{{Scope: ScopeProjectSettings, BaseDir: testRoot, Patterns: []string{"*.log"}}}

	assert.True(t, ShouldIgnore("build/output.log", testRoot, scopes, nil))
	assert.True(t, ShouldIgnore("output.log", testRoot, scopes, nil))
	assert.False(t, ShouldIgnore("build/output.txt", testRoot, scopes, nil))
}

func TestShouldIgnore_GitignoreSemantics(t *testing.T) {
	scopes := []IgnoreScope{{
		Scope: ScopeProjectSettings,
		Patterns: []string{
			"# generated files",
			"",
			"dist/",
			"/vendor",
			"docs/internal/*.md",
			"*.tmp",
			"!keep.tmp",
		},
	}}

	tests := []struct {
		path     string
		expected bool
	}{
		{"dist/app.js", true},
		{"web/dist/app.js", true},
		{"dist", false}, // directory-only pattern, path not known to be a directory
		{"vendor/lib/a.go", true},
		{"src/vendor/a.go", false},
		{"docs/internal/notes.md", true},
		{"docs/internal/deep/notes.md", false},
		{"docs/public/notes.md", false},
		{"scratch.tmp", true},
		{"keep.tmp", false},
		{"sub/keep.tmp", false},
		{"# generated files", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShouldIgnore(tt.path, testRoot, scopes, nil))
		})
	}
}

func TestShouldIgnore_NegationCannotReincludeIgnoredDir(t *testing.T) {
	scopes := []IgnoreScope{{Scope: ScopeProjectSettings, Patterns: []string{"build/", "!build/keep.txt"}}}
	assert.True(t, ShouldIgnore("build/keep.txt", testRoot, scopes, nil))
}

func TestShouldIgnore_ScopeBaseDir(t *testing.T) {
	scopes := []IgnoreScope{{Scope: ScopeUserSettings, BaseDir: "/work/project/sub", Patterns: []string{"/data"}}}

	assert.True(t, ShouldIgnore("sub/data/file.csv", testRoot, scopes, nil))
	assert.False(t, ShouldIgnore("data/file.csv", testRoot, scopes, nil), "outside the scope's base dir")
}

func TestShouldIgnore_MalformedPatternSkipsOnlyItsScope(t *testing.T) {
	scopes := []IgnoreScope{
		{Scope: ScopeLocalProjectSettings, Patterns: []string{"[unclosed", "*.log"}},
		{Scope: ScopeProjectSettings, Patterns: []string{"*.log"}},
	}

	var reported []error
	reporter := ErrorReporterFunc(func(err error) { reported = append(reported, err) })

	assert.True(t, ShouldIgnore("app.log", testRoot, scopes, reporter))
	require.Len(t, reported, 1)

	var malformed *MalformedPatternError
	require.True(t, errors.As(reported[0], &malformed))
	assert.Equal(t, ScopeLocalProjectSettings, malformed.Scope)
	assert.Equal(t, "[unclosed", malformed.Pattern)

	reported = nil
	assert.False(t, ShouldIgnore("app.txt", testRoot, scopes[:1], reporter))
	assert.Len(t, reported, 1)
}

func TestEvaluate_MalformedIgnoreReportedPerCheck(t *testing.T) {
	rs := NewRuleSet(testRoot, nil, []IgnoreScope{
		{Scope: ScopeProjectSettings, Patterns: []string{"[unclosed"}},
	})

	var reported []error
	ev := staticEvaluator(rs, WithErrorReporter(ErrorReporterFunc(func(err error) { reported = append(reported, err) })))

	for i := 0; i < 2; i++ {
		d, err := ev.Evaluate(context.Background(), Invocation{ToolName: "Read", Content: "app.txt"})
		require.NoError(t, err)
		assert.Equal(t, BehaviorAsk, d.Behavior)
	}
	assert.Len(t, reported, 2, "each check that reaches the scope reports it")

	_, err := ev.Evaluate(context.Background(), Invocation{ToolName: "Edit", Content: "app.txt"})
	require.NoError(t, err)
	assert.Len(t, reported, 2, "write tools never consult ignore patterns")
}

func TestUnignoredPatterns(t *testing.T) {
	rs := NewRuleSet(testRoot, []Rule{
		{Source: ScopeLocalProjectSettings, RuleBehavior: BehaviorDeny, RuleValue: RuleValue{ToolName: "Read", RuleContent: "*.log"}},
		{Source: ScopeProjectSettings, RuleBehavior: BehaviorDeny, RuleValue: RuleValue{ToolName: "Read", RuleContent: "*.tmp"}},
		{Source: ScopeLocalProjectSettings, RuleBehavior: BehaviorDeny, RuleValue: RuleValue{ToolName: "Edit", RuleContent: "*.csv"}},
		{Source: ScopeLocalProjectSettings, RuleBehavior: BehaviorAllow, RuleValue: RuleValue{ToolName: "Read", RuleContent: "*.md"}},
	}, nil)

	got := UnignoredPatterns([]string{"*.log", "*.tmp", "*.csv", "*.md", "dist/**"}, "Read", rs)
	assert.Equal(t, []string{"*.tmp", "*.csv", "*.md", "dist/**"}, got)
}
