package permission

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const pycacheDir = "__pycache__"

// IgnoreScope is the set of ignore patterns configured in one scope.
// Patterns are interpreted relative to BaseDir.
type IgnoreScope struct {
	Scope    Scope    `json:"scope"`
	BaseDir  string   `json:"baseDir"`
	Patterns []string `json:"patterns"`
}

// ErrorReporter receives errors that are recovered from during evaluation.
type ErrorReporter interface {
	ReportError(err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(err error)

func (f ErrorReporterFunc) ReportError(err error) { f(err) }

type nopReporter struct{}

func (nopReporter) ReportError(error) {}

// MalformedPatternError is reported when an ignore pattern cannot be compiled.
type MalformedPatternError struct {
	Scope   Scope
	Pattern string
}

func (e *MalformedPatternError) Error() string {
	return fmt.Sprintf("malformed ignore pattern %q in %s", e.Pattern, e.Scope)
}

type ignoreRule struct {
	glob    string
	negate  bool
	dirOnly bool
}

// IgnoreMatcher is the compiled, gitignore-style matcher of one scope.
type IgnoreMatcher struct {
	scope   Scope
	baseDir string
	rules   []ignoreRule
	err     error
}

// CompileIgnore compiles the patterns of one scope. Comments and blank lines
// are skipped; "!" negates, a trailing "/" restricts a pattern to
// directories, and a pattern containing a "/" is anchored at BaseDir while
// one without floats to any depth. A malformed pattern does not fail
// compilation; it is recorded and surfaced by Match.
func CompileIgnore(s IgnoreScope) *IgnoreMatcher {
	m := &IgnoreMatcher{scope: s.Scope, baseDir: filepath.Clean(s.BaseDir)}
	for _, raw := range s.Patterns {
		p := strings.TrimRight(raw, " \t\r")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		var r ignoreRule
		if strings.HasPrefix(p, "!") {
			r.negate = true
			p = p[1:]
		} else if strings.HasPrefix(p, `\!`) || strings.HasPrefix(p, `\#`) {
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			r.dirOnly = true
			p = strings.TrimRight(p, "/")
		}
		if p == "" {
			continue
		}

		if strings.HasPrefix(p, "/") {
			p = strings.TrimPrefix(p, "/")
		} else if !strings.Contains(p, "/") && !strings.HasPrefix(p, "**") {
			p = "**/" + p
		}

		if !doublestar.ValidatePattern(p) {
			if m.err == nil {
				m.err = &MalformedPatternError{Scope: s.Scope, Pattern: raw}
			}
			continue
		}
		r.glob = p
		m.rules = append(m.rules, r)
	}
	return m
}

// Scope returns the scope the matcher was compiled from.
func (m *IgnoreMatcher) Scope() Scope { return m.scope }

// Err returns the first compilation error, if any.
func (m *IgnoreMatcher) Err() error { return m.err }

// Match reports whether absPath is ignored by this scope. Paths outside the
// scope's base directory never match. If any pattern in the scope is
// malformed the scope reports its error and does not match.
func (m *IgnoreMatcher) Match(absPath string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	rel, err := filepath.Rel(m.baseDir, filepath.Clean(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return false, nil
	}

	// A path inside an ignored directory is ignored; negation cannot
	// re-include it.
	segments := strings.Split(rel, "/")
	for i := 1; i < len(segments); i++ {
		if m.matchOne(strings.Join(segments[:i], "/"), true) {
			return true, nil
		}
	}
	return m.matchOne(rel, strings.HasSuffix(absPath, "/")), nil
}

// matchOne applies the rules to one path; the last matching rule wins.
func (m *IgnoreMatcher) matchOne(rel string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(r.glob, rel); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

// CompileIgnoreScopes compiles scopes in precedence order.
func CompileIgnoreScopes(scopes []IgnoreScope) []*IgnoreMatcher {
	sorted := make([]IgnoreScope, len(scopes))
	copy(sorted, scopes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Scope.Precedence() < sorted[j].Scope.Precedence()
	})

	matchers := make([]*IgnoreMatcher, 0, len(sorted))
	for _, s := range sorted {
		if len(s.Patterns) == 0 {
			continue
		}
		matchers = append(matchers, CompileIgnore(s))
	}
	return matchers
}

// ShouldIgnore reports whether path, resolved against rootDir, is excluded
// from read and search tools.
//
// Dotfiles (any path other than "." whose base name starts with ".") and
// anything under a __pycache__ directory are always ignored. Otherwise each
// scope is tried in precedence order and the first match wins. A scope with
// a malformed pattern is reported to reporter and skipped.
// Scopes without a BaseDir are rooted at rootDir.
func ShouldIgnore(path, rootDir string, scopes []IgnoreScope, reporter ErrorReporter) bool {
	rooted := make([]IgnoreScope, len(scopes))
	for i, s := range scopes {
		if s.BaseDir == "" {
			s.BaseDir = rootDir
		}
		rooted[i] = s
	}
	_, ignored := ignoredBy(path, rootDir, CompileIgnoreScopes(rooted), reporter)
	return ignored
}

// ignoredBy is ShouldIgnore over compiled matchers. It also returns the
// scope that matched, or "" for the built-in rules.
func ignoredBy(path, rootDir string, matchers []*IgnoreMatcher, reporter ErrorReporter) (Scope, bool) {
	if builtinIgnored(path) {
		return "", true
	}
	if reporter == nil {
		reporter = nopReporter{}
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(rootDir, abs)
	}
	if strings.HasSuffix(path, "/") {
		abs += "/"
	}

	for _, m := range matchers {
		ok, err := m.Match(abs)
		if err != nil {
			reporter.ReportError(err)
			continue
		}
		if ok {
			return m.scope, true
		}
	}
	return "", false
}

func builtinIgnored(path string) bool {
	if filepath.Clean(path) != "." && strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == pycacheDir {
			return true
		}
	}
	return false
}

// UnignoredPatterns removes from candidates every pattern that is already
// the exact content of a local-settings deny rule for toolName, so callers
// do not suggest a rule that exists.
func UnignoredPatterns(candidates []string, toolName string, rs *RuleSet) []string {
	denied := make(map[string]bool)
	if rs != nil {
		for _, r := range rs.Rules {
			if r.Source == ScopeLocalProjectSettings &&
				r.RuleBehavior == BehaviorDeny &&
				r.RuleValue.ToolName == toolName &&
				r.RuleValue.HasContent() {
				denied[r.RuleValue.RuleContent] = true
			}
		}
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !denied[c] {
			out = append(out, c)
		}
	}
	return out
}
