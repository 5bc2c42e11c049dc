package permission

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/logging"
)

// RuleSet is an immutable snapshot of every rule in effect. Rules are
// ordered by scope precedence and, within a scope, deny rules before allow
// rules in the order they were configured.
type RuleSet struct {
	Version uint64        `json:"version"`
	RootDir string        `json:"rootDir"`
	Rules   []Rule        `json:"rules"`
	Ignore  []IgnoreScope `json:"ignore"`
	BuiltAt time.Time     `json:"builtAt"`

	matchers []*IgnoreMatcher
	// hosts holds the compiled host globs of "domain:" rule contents. A
	// pattern that does not compile maps to nil.
	hosts map[string]glob.Glob
}

// NewRuleSet builds a snapshot directly from rules and ignore scopes.
// Rules are stably sorted by scope precedence.
func NewRuleSet(rootDir string, rules []Rule, ignore []IgnoreScope) *RuleSet {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Source.Precedence() < sorted[j].Source.Precedence()
	})

	root := filepath.Clean(rootDir)
	scopes := make([]IgnoreScope, len(ignore))
	for i, s := range ignore {
		if s.BaseDir == "" {
			s.BaseDir = root
		}
		scopes[i] = s
	}

	hosts := make(map[string]glob.Glob)
	for _, r := range sorted {
		pattern := r.RuleValue.RuleContent
		if _, done := hosts[pattern]; done || !strings.HasPrefix(pattern, domainPrefix) {
			continue
		}
		g, _ := compileHostGlob(pattern)
		hosts[pattern] = g
	}

	return &RuleSet{
		RootDir:  root,
		Rules:    sorted,
		Ignore:   scopes,
		BuiltAt:  time.Now(),
		matchers: CompileIgnoreScopes(scopes),
		hosts:    hosts,
	}
}

// matchDomain matches rawURL with the host glob compiled for pattern when
// the snapshot was built. Invalid patterns never match.
func (rs *RuleSet) matchDomain(pattern, rawURL string) bool {
	if g, ok := rs.hosts[pattern]; ok {
		return g != nil && matchHost(g, rawURL)
	}
	return MatchDomain(pattern, rawURL)
}

// ByBehavior returns the rules with the given behavior, in order.
func (rs *RuleSet) ByBehavior(b Behavior) []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.RuleBehavior == b {
			out = append(out, r)
		}
	}
	return out
}

// String renders one rule per line, used for diffs.
func (rs *RuleSet) String() string {
	var sb strings.Builder
	for _, r := range rs.Rules {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}
	for _, s := range rs.Ignore {
		for _, p := range s.Patterns {
			fmt.Fprintf(&sb, "ignore %s (%s)\n", p, s.Scope)
		}
	}
	return sb.String()
}

// Diff returns a line diff between two rule sets, with "+" and "-"
// prefixes on changed lines. Either side may be nil.
func Diff(before, after *RuleSet) string {
	var a, b string
	if before != nil {
		a = before.String()
	}
	if after != nil {
		b = after.String()
	}
	if a == b {
		return ""
	}

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				sb.WriteString(prefix + line)
			}
		}
	}
	return sb.String()
}

// ScopeConfig is the raw configuration of one scope.
type ScopeConfig struct {
	Scope   Scope
	BaseDir string
	Allow   []string
	Deny    []string
	Ignore  []string
	// AllowManagedRulesOnly is honored only in policySettings. When set,
	// allow rules from every other scope are dropped.
	AllowManagedRulesOnly bool
}

// ScopeProvider supplies raw scope configuration. A nil config with a nil
// error means the scope is not configured.
type ScopeProvider interface {
	LoadScope(ctx context.Context, scope Scope) (*ScopeConfig, error)
}

// Aggregate merges scope configurations into rules and ignore scopes,
// ordered by scope precedence. It is deterministic: the same inputs always
// yield the same output.
func Aggregate(configs []*ScopeConfig) ([]Rule, []IgnoreScope) {
	byScope := make(map[Scope]*ScopeConfig, len(configs))
	for _, c := range configs {
		if c != nil && c.Scope.Valid() {
			byScope[c.Scope] = c
		}
	}

	managedOnly := false
	if p := byScope[ScopePolicySettings]; p != nil {
		managedOnly = p.AllowManagedRulesOnly
	}

	var rules []Rule
	var ignore []IgnoreScope
	for _, scope := range scopeOrder {
		c := byScope[scope]
		if c == nil {
			continue
		}
		rules = append(rules, ParseRules(scope, BehaviorDeny, c.Deny)...)
		if !managedOnly || scope == ScopePolicySettings {
			rules = append(rules, ParseRules(scope, BehaviorAllow, c.Allow)...)
		}
		if len(c.Ignore) > 0 {
			ignore = append(ignore, IgnoreScope{
				Scope:    scope,
				BaseDir:  c.BaseDir,
				Patterns: append([]string(nil), c.Ignore...),
			})
		}
	}
	return rules, ignore
}

// Aggregator rebuilds the RuleSet from a ScopeProvider. Readers get the
// current snapshot without locking; rebuilds are serialized so a reader
// sees either the old or the complete new snapshot.
type Aggregator struct {
	provider ScopeProvider
	rootDir  string

	mu      sync.Mutex
	version uint64
	session []Rule
	current atomic.Pointer[RuleSet]
}

// NewAggregator creates an aggregator for the project rooted at rootDir.
func NewAggregator(provider ScopeProvider, rootDir string) *Aggregator {
	return &Aggregator{provider: provider, rootDir: rootDir}
}

// RootDir returns the project root.
func (a *Aggregator) RootDir() string { return a.rootDir }

// Current returns the last built snapshot, or nil before the first build.
func (a *Aggregator) Current() *RuleSet {
	return a.current.Load()
}

// Snapshot returns the current snapshot, building it on first use.
func (a *Aggregator) Snapshot(ctx context.Context) (*RuleSet, error) {
	if rs := a.current.Load(); rs != nil {
		return rs, nil
	}
	return a.Reload(ctx)
}

// Reload re-reads every scope and publishes a new snapshot. A scope that
// fails to load is logged and contributes no rules.
func (a *Aggregator) Reload(ctx context.Context) (*RuleSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rebuildLocked(ctx)
}

// AddSessionRules appends rules to the session scope and rebuilds.
// The Source of each rule is forced to ScopeSession; duplicates are skipped.
func (a *Aggregator) AddSessionRules(ctx context.Context, rules ...Rule) (*RuleSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range rules {
		r.Source = ScopeSession
		if !containsRule(a.session, r) {
			a.session = append(a.session, r)
		}
	}
	return a.rebuildLocked(ctx)
}

// SessionRules returns a copy of the rules added during this run.
func (a *Aggregator) SessionRules() []Rule {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Rule(nil), a.session...)
}

// ClearSession drops all session rules and rebuilds.
func (a *Aggregator) ClearSession(ctx context.Context) (*RuleSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = nil
	return a.rebuildLocked(ctx)
}

func (a *Aggregator) rebuildLocked(ctx context.Context) (*RuleSet, error) {
	log := logging.Component("permission")

	var configs []*ScopeConfig
	for _, scope := range scopeOrder {
		if scope == ScopeSession || a.provider == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := a.provider.LoadScope(ctx, scope)
		if err != nil {
			log.Warn().Err(err).Str("scope", string(scope)).Msg("scope unreadable, skipping")
			continue
		}
		if c == nil {
			continue
		}
		c.Scope = scope
		if c.BaseDir == "" {
			c.BaseDir = a.rootDir
		}
		configs = append(configs, c)
	}

	rules, ignore := Aggregate(configs)
	rules = append(rules, a.session...)

	rs := NewRuleSet(a.rootDir, rules, ignore)
	a.version++
	rs.Version = a.version

	previous := a.current.Swap(rs)
	diff := Diff(previous, rs)
	if diff != "" {
		log.Info().Uint64("version", rs.Version).Int("rules", len(rs.Rules)).Msg("rule set changed")
		log.Debug().Msg(diff)
	}

	event.Publish(event.Event{
		Type: event.RulesReloaded,
		Data: event.RulesReloadedData{
			Version: rs.Version,
			Rules:   len(rs.Rules),
			Diff:    diff,
		},
	})
	return rs, nil
}

func containsRule(rules []Rule, r Rule) bool {
	for _, existing := range rules {
		if existing == r {
			return true
		}
	}
	return false
}
