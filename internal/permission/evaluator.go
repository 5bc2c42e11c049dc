package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"
)

const defaultConcurrency = 8

// DefaultPromptTimeout bounds one permission-prompt tool call.
const DefaultPromptTimeout = 30 * time.Second

// RuleSource supplies rule set snapshots. *Aggregator implements it.
type RuleSource interface {
	Snapshot(ctx context.Context) (*RuleSet, error)
}

// StaticRules is a RuleSource that always returns the same snapshot.
type StaticRules struct{ RuleSet *RuleSet }

func (s StaticRules) Snapshot(context.Context) (*RuleSet, error) {
	if s.RuleSet == nil {
		return nil, errors.New("no rule set")
	}
	return s.RuleSet, nil
}

// Evaluator produces decisions for tool invocations.
type Evaluator struct {
	rules           RuleSource
	prompt          PromptResolver
	defaultBehavior Behavior
	reporter        ErrorReporter
	concurrency     int
	promptTimeout   time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPromptResolver sets the permission-prompt tool consulted when no rule
// matches.
func WithPromptResolver(p PromptResolver) Option {
	return func(e *Evaluator) { e.prompt = p }
}

// WithPromptTimeout bounds each prompt tool call. A call that runs out of
// time produces no decision. Zero or less disables the bound.
func WithPromptTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.promptTimeout = d }
}

// WithDefaultBehavior sets the behavior returned when no rule matches and
// no prompt tool is configured. Ask, or an empty value, keeps the default.
func WithDefaultBehavior(b Behavior) Option {
	return func(e *Evaluator) { e.defaultBehavior = b }
}

// WithErrorReporter sets where recoverable matching errors are reported.
func WithErrorReporter(r ErrorReporter) Option {
	return func(e *Evaluator) { e.reporter = r }
}

// WithConcurrency bounds the number of concurrent evaluations in EvaluateAll.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEvaluator creates an evaluator over rules.
func NewEvaluator(rules RuleSource, opts ...Option) *Evaluator {
	e := &Evaluator{
		rules:       rules,
		reporter:      nopReporter{},
		concurrency:   defaultConcurrency,
		promptTimeout: DefaultPromptTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PromptToolName returns the name of the configured prompt tool, or "".
func (e *Evaluator) PromptToolName() string {
	if e.prompt == nil {
		return ""
	}
	return e.prompt.ToolName()
}

// subject is an invocation prepared for matching.
type subject struct {
	toolName string
	content  string
	isPath   bool
	rel      string
	leaves   []BashCommand
	parsed   bool
}

func newSubject(rs *RuleSet, inv Invocation) *subject {
	s := &subject{toolName: inv.ToolName, content: invocationContent(inv)}
	if IsPathTool(inv.ToolName) {
		s.isPath = true
		s.rel, _ = RelativePath(s.content, rs.RootDir)
	}
	if inv.ToolName == ToolBash {
		leaves, err := ParseBashCommand(s.content)
		s.leaves, s.parsed = leaves, err == nil
	}
	return s
}

func invocationContent(inv Invocation) string {
	if inv.Content != "" {
		return inv.Content
	}
	return ContentFromInput(inv.ToolName, inv.Input)
}

func (s *subject) matches(rs *RuleSet, r Rule) bool {
	if !ToolMatches(r.RuleValue.ToolName, s.toolName) {
		return false
	}
	if !r.RuleValue.HasContent() {
		return true
	}

	pattern := r.RuleValue.RuleContent
	switch {
	case s.isPath:
		return MatchPathGlob(pattern, s.rel)
	case s.toolName == ToolBash:
		return MatchBash(pattern, r.RuleBehavior, s.content, s.leaves, s.parsed)
	case strings.HasPrefix(pattern, domainPrefix):
		return s.toolName == ToolWebFetch && rs.matchDomain(pattern, s.content)
	default:
		return MatchPrefix(pattern, s.content)
	}
}

func (s *subject) firstMatch(rs *RuleSet, b Behavior) *Rule {
	for i := range rs.Rules {
		r := rs.Rules[i]
		if r.RuleBehavior == b && s.matches(rs, r) {
			return &r
		}
	}
	return nil
}

// leafAllowed finds an allow rule for every leaf of a parsed Bash command,
// each leaf possibly by a different rule, and returns the rule covering the
// first leaf. It returns nil when a leaf is dynamic or not covered.
func (s *subject) leafAllowed(rs *RuleSet) *Rule {
	if s.toolName != ToolBash || !s.parsed || len(s.leaves) == 0 {
		return nil
	}
	var first *Rule
	for _, leaf := range s.leaves {
		if leaf.Dynamic || leaf.Text == "" {
			return nil
		}
		one := []BashCommand{leaf}
		var found *Rule
		for i := range rs.Rules {
			r := rs.Rules[i]
			if r.RuleBehavior != BehaviorAllow || !ToolMatches(r.RuleValue.ToolName, ToolBash) {
				continue
			}
			if !r.RuleValue.HasContent() || MatchBash(r.RuleValue.RuleContent, BehaviorAllow, leaf.Text, one, true) {
				found = &r
				break
			}
		}
		if found == nil {
			return nil
		}
		if first == nil {
			first = found
		}
	}
	return first
}

func newDecision(rs *RuleSet, b Behavior) *Decision {
	d := &Decision{ID: ulid.Make().String(), Behavior: b}
	if rs != nil {
		d.RuleSetVersion = rs.Version
	}
	return d
}

func ruleDecision(rs *RuleSet, r *Rule) *Decision {
	d := newDecision(rs, r.RuleBehavior)
	d.Rule = r
	d.DecisionReason = &DecisionReason{Type: ReasonRule, Rule: r}
	return d
}

// Decide applies the static part of evaluation to one invocation, in order:
// path safety gate, deny rules, ignore patterns (read and search tools
// only), allow rules. It returns nil when nothing resolves the invocation.
// Decide has no side effects other than reporting malformed ignore patterns.
func Decide(rs *RuleSet, inv Invocation, reporter ErrorReporter) *Decision {
	s := newSubject(rs, inv)

	if s.isPath && !IsValidPath(s.content, rs.RootDir) {
		d := newDecision(rs, BehaviorDeny)
		d.DecisionReason = &DecisionReason{Type: ReasonPathTraversal, Path: s.content}
		return d
	}

	if r := s.firstMatch(rs, BehaviorDeny); r != nil {
		return ruleDecision(rs, r)
	}

	if IsReadTool(inv.ToolName) {
		if scope, ok := ignoredBy(s.content, rs.RootDir, rs.matchers, reporter); ok {
			d := newDecision(rs, BehaviorDeny)
			d.DecisionReason = &DecisionReason{Type: ReasonIgnorePattern, Scope: scope, Path: s.content}
			return d
		}
	}

	if r := s.firstMatch(rs, BehaviorAllow); r != nil {
		return ruleDecision(rs, r)
	}
	if r := s.leafAllowed(rs); r != nil {
		return ruleDecision(rs, r)
	}
	return nil
}

// Evaluate decides one invocation against the current snapshot.
//
// When no rule resolves it, the configured prompt tool is consulted. A
// prompt tool that fails or returns an unrecognized verdict yields
// ErrNoDecision; cancellation yields ctx.Err(). Neither ever produces an
// allow. Without a prompt tool the configured default behavior applies,
// otherwise the decision is ask, with rule suggestions and no reason.
func (e *Evaluator) Evaluate(ctx context.Context, inv Invocation) (*Decision, error) {
	rs, err := e.rules.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return e.evaluate(ctx, rs, inv)
}

func (e *Evaluator) evaluate(ctx context.Context, rs *RuleSet, inv Invocation) (*Decision, error) {
	if d := Decide(rs, inv, e.reporter); d != nil {
		return d, nil
	}

	if e.prompt != nil {
		d, err := resolveViaPromptTool(ctx, e.prompt, inv, e.promptTimeout)
		if err != nil {
			return nil, err
		}
		d.RuleSetVersion = rs.Version
		return d, nil
	}

	switch e.defaultBehavior {
	case BehaviorAllow, BehaviorDeny:
		d := newDecision(rs, e.defaultBehavior)
		d.DecisionReason = &DecisionReason{Type: ReasonDefault}
		return d, nil
	}

	d := newDecision(rs, BehaviorAsk)
	d.RuleSuggestions = Suggest(rs, inv)
	return d, nil
}

// Suggest returns rule suggestions for inv against the current snapshot.
func (e *Evaluator) Suggest(ctx context.Context, inv Invocation) []RuleValue {
	rs, err := e.rules.Snapshot(ctx)
	if err != nil {
		return nil
	}
	return Suggest(rs, inv)
}

// Result is the outcome of one invocation in EvaluateAll.
type Result struct {
	Invocation Invocation `json:"invocation"`
	Decision   *Decision  `json:"decision,omitempty"`
	Err        error      `json:"-"`
}

// EvaluateAll evaluates invocations concurrently against one shared
// snapshot. Results are returned in input order.
func (e *Evaluator) EvaluateAll(ctx context.Context, invs []Invocation) ([]Result, error) {
	rs, err := e.rules.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	results := make([]Result, len(invs))
	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i, inv := range invs {
		p.Go(func() {
			d, err := e.evaluate(ctx, rs, inv)
			results[i] = Result{Invocation: inv, Decision: d, Err: err}
		})
	}
	p.Wait()
	return results, nil
}
