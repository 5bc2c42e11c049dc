package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/toolguard/internal/event"
	"github.com/opencode-ai/toolguard/internal/logging"
)

// Response is a reply to a pending permission request.
type Response string

const (
	ResponseOnce   Response = "once"
	ResponseAlways Response = "always"
	ResponseReject Response = "reject"
)

// Valid reports whether r is a known response.
func (r Response) Valid() bool {
	switch r {
	case ResponseOnce, ResponseAlways, ResponseReject:
		return true
	}
	return false
}

// ErrRequestNotFound is returned by Respond for an unknown request ID.
var ErrRequestNotFound = errors.New("permission request not found")

// SessionRules stores rules approved with ResponseAlways.
// *Aggregator implements it.
type SessionRules interface {
	AddSessionRules(ctx context.Context, rules ...Rule) (*RuleSet, error)
}

// PendingRequest is an ask decision waiting for a reply.
type PendingRequest struct {
	ID         string     `json:"id"`
	Invocation Invocation `json:"invocation"`
	Decision   *Decision  `json:"decision"`
}

type pendingEntry struct {
	req PendingRequest
	ch  chan Response
}

// Checker turns decisions into outcomes for the agent loop: allow returns,
// deny returns a *RejectedError, and ask blocks until Respond is called or
// the context ends.
type Checker struct {
	evaluator *Evaluator
	session   SessionRules

	mu      sync.RWMutex
	pending map[string]*pendingEntry // requestID -> waiter
}

// NewChecker creates a checker. session may be nil, in which case
// ResponseAlways behaves like ResponseOnce.
func NewChecker(evaluator *Evaluator, session SessionRules) *Checker {
	return &Checker{
		evaluator: evaluator,
		session:   session,
		pending:   make(map[string]*pendingEntry),
	}
}

// Evaluator returns the evaluator used by the checker.
func (c *Checker) Evaluator() *Evaluator { return c.evaluator }

// Evaluate evaluates inv and publishes the decision without waiting on an
// ask. A prompt tool that produced no decision is treated as ask.
func (c *Checker) Evaluate(ctx context.Context, inv Invocation) (*Decision, error) {
	d, err := c.evaluator.Evaluate(ctx, inv)
	switch {
	case errors.Is(err, ErrNoDecision):
		d = c.noDecision(ctx, inv, err)
	case err != nil:
		return nil, err
	}

	publishDecision(inv, d)
	return d, nil
}

// EvaluateAll evaluates invocations against one snapshot and publishes
// every decision. Results keep the input order.
func (c *Checker) EvaluateAll(ctx context.Context, invs []Invocation) ([]Result, error) {
	results, err := c.evaluator.EvaluateAll(ctx, invs)
	if err != nil {
		return nil, err
	}
	for i := range results {
		r := &results[i]
		if errors.Is(r.Err, ErrNoDecision) {
			r.Decision = c.noDecision(ctx, r.Invocation, r.Err)
			r.Err = nil
		}
		if r.Decision != nil {
			publishDecision(r.Invocation, r.Decision)
		}
	}
	return results, nil
}

func (c *Checker) noDecision(ctx context.Context, inv Invocation, err error) *Decision {
	logging.Component("permission").Warn().Err(err).Str("tool", inv.ToolName).Msg("prompt tool gave no decision, asking")
	d := newDecision(nil, BehaviorAsk)
	d.RuleSuggestions = c.evaluator.Suggest(ctx, inv)
	return d
}

// Check evaluates inv and resolves ask decisions interactively.
func (c *Checker) Check(ctx context.Context, inv Invocation) (*Decision, error) {
	d, err := c.Evaluate(ctx, inv)
	if err != nil {
		return nil, err
	}

	switch d.Behavior {
	case BehaviorAllow:
		return d, nil
	case BehaviorDeny:
		return d, rejected(inv, d, "Permission denied by "+describeReason(d))
	default:
		return c.Ask(ctx, inv, d)
	}
}

// Ask publishes a permission.required event for an ask decision and waits
// for a reply. The request ID is the decision ID.
func (c *Checker) Ask(ctx context.Context, inv Invocation, d *Decision) (*Decision, error) {
	if d == nil {
		d = newDecision(nil, BehaviorAsk)
	}
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}

	entry := &pendingEntry{
		req: PendingRequest{ID: d.ID, Invocation: inv, Decision: d},
		ch:  make(chan Response, 1),
	}
	c.mu.Lock()
	c.pending[d.ID] = entry
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, d.ID)
		c.mu.Unlock()
	}()

	suggestions := make([]string, 0, len(d.RuleSuggestions))
	for _, s := range d.RuleSuggestions {
		suggestions = append(suggestions, s.String())
	}
	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:          d.ID,
			SessionID:   inv.SessionID,
			CallID:      inv.CallID,
			ToolName:    inv.ToolName,
			Content:     invocationContent(inv),
			Suggestions: suggestions,
			Title:       title(inv),
		},
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-entry.ch:
		return c.resolve(ctx, inv, d, resp)
	}
}

func (c *Checker) resolve(ctx context.Context, inv Invocation, asked *Decision, resp Response) (*Decision, error) {
	switch resp {
	case ResponseAlways:
		if c.session != nil {
			rules := sessionRulesFor(inv, asked)
			if _, err := c.session.AddSessionRules(ctx, rules...); err != nil {
				return nil, fmt.Errorf("failed to add session rules: %w", err)
			}
		}
		fallthrough
	case ResponseOnce:
		d := userDecision(asked, BehaviorAllow, resp)
		publishDecision(inv, d)
		return d, nil
	default:
		d := userDecision(asked, BehaviorDeny, resp)
		publishDecision(inv, d)
		return d, rejected(inv, d, "Permission rejected by user")
	}
}

func userDecision(asked *Decision, b Behavior, resp Response) *Decision {
	d := newDecision(nil, b)
	d.RuleSetVersion = asked.RuleSetVersion
	d.DecisionReason = &DecisionReason{
		Type:       ReasonUser,
		ToolResult: ToolResult{"response": string(resp)},
	}
	return d
}

// sessionRulesFor returns the allow rules stored for an "always" reply: the
// decision's suggestions, or an exact rule for the invocation.
func sessionRulesFor(inv Invocation, d *Decision) []Rule {
	values := d.RuleSuggestions
	if len(values) == 0 {
		values = []RuleValue{{ToolName: inv.ToolName, RuleContent: invocationContent(inv)}}
	}
	rules := make([]Rule, 0, len(values))
	for _, v := range values {
		rules = append(rules, Rule{Source: ScopeSession, RuleBehavior: BehaviorAllow, RuleValue: v})
	}
	return rules
}

// Respond delivers a reply to a pending request.
func (c *Checker) Respond(requestID string, resp Response) error {
	if !resp.Valid() {
		return fmt.Errorf("invalid response %q", resp)
	}

	c.mu.RLock()
	entry, ok := c.pending[requestID]
	c.mu.RUnlock()
	if !ok {
		return ErrRequestNotFound
	}

	select {
	case entry.ch <- resp:
	default:
		// Already answered.
		return nil
	}

	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			ID:       requestID,
			Response: string(resp),
			Granted:  resp != ResponseReject,
		},
	})
	return nil
}

// RejectAll rejects every pending request and returns how many were
// waiting.
func (c *Checker) RejectAll() int {
	n := 0
	for _, req := range c.Pending() {
		if err := c.Respond(req.ID, ResponseReject); err == nil {
			n++
		}
	}
	return n
}

// Pending returns the requests currently waiting for a reply.
func (c *Checker) Pending() []PendingRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PendingRequest, 0, len(c.pending))
	for _, e := range c.pending {
		out = append(out, e.req)
	}
	return out
}

func rejected(inv Invocation, d *Decision, msg string) *RejectedError {
	return &RejectedError{
		SessionID: inv.SessionID,
		ToolName:  inv.ToolName,
		CallID:    inv.CallID,
		Decision:  d,
		Message:   msg,
	}
}

func describeReason(d *Decision) string {
	if d.DecisionReason == nil {
		return "configuration"
	}
	switch d.DecisionReason.Type {
	case ReasonRule:
		if d.Rule != nil {
			return fmt.Sprintf("rule %s from %s", d.Rule.RuleValue, d.Rule.Source)
		}
	case ReasonPermissionPromptTool:
		return "permission prompt tool " + d.DecisionReason.ToolName
	case ReasonPathTraversal:
		return "path outside the project root"
	case ReasonIgnorePattern:
		return "ignore pattern"
	}
	return string(d.DecisionReason.Type)
}

func title(inv Invocation) string {
	content := invocationContent(inv)
	if content == "" {
		return inv.ToolName
	}
	return inv.ToolName + ": " + content
}

func publishDecision(inv Invocation, d *Decision) {
	data := event.DecisionMadeData{
		DecisionID:     d.ID,
		SessionID:      inv.SessionID,
		CallID:         inv.CallID,
		ToolName:       inv.ToolName,
		Content:        invocationContent(inv),
		Behavior:       string(d.Behavior),
		RuleSetVersion: d.RuleSetVersion,
	}
	if r := d.DecisionReason; r != nil {
		data.ReasonType = string(r.Type)
		data.PromptTool = r.ToolName
	}
	if d.Rule != nil {
		data.Rule = d.Rule.RuleValue.String()
		data.RuleScope = string(d.Rule.Source)
	}
	event.Publish(event.Event{Type: event.DecisionMade, Data: data})
}
