package permission

import (
	"errors"
	"fmt"
)

// Behavior is the verdict of a rule or decision.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
	BehaviorAsk   Behavior = "ask"
)

// Valid reports whether b is one of the known behaviors.
func (b Behavior) Valid() bool {
	switch b {
	case BehaviorAllow, BehaviorDeny, BehaviorAsk:
		return true
	}
	return false
}

// Scope is the configuration origin of a rule.
type Scope string

const (
	ScopeCLIArgument          Scope = "cliArgument"
	ScopeLocalProjectSettings Scope = "localProjectSettings"
	ScopeProjectSettings      Scope = "projectSettings"
	ScopePolicySettings       Scope = "policySettings"
	ScopeUserSettings         Scope = "userSettings"
	ScopeSession              Scope = "session"
)

// scopeOrder is the precedence table, highest first.
var scopeOrder = [...]Scope{
	ScopeCLIArgument,
	ScopeLocalProjectSettings,
	ScopeProjectSettings,
	ScopePolicySettings,
	ScopeUserSettings,
	ScopeSession,
}

// Scopes returns all scopes in precedence order (highest first).
func Scopes() []Scope {
	out := make([]Scope, len(scopeOrder))
	copy(out, scopeOrder[:])
	return out
}

// Precedence returns the rank of s (0 is highest). Unknown scopes rank last.
func (s Scope) Precedence() int {
	for i, sc := range scopeOrder {
		if sc == s {
			return i
		}
	}
	return len(scopeOrder)
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s.Precedence() < len(scopeOrder)
}

// RuleValue identifies the tool a rule applies to and, optionally, the content
// an invocation must match.
type RuleValue struct {
	ToolName    string `json:"toolName" yaml:"toolName"`
	RuleContent string `json:"ruleContent,omitempty" yaml:"ruleContent,omitempty"`
}

// HasContent reports whether the rule is restricted to matching content.
func (v RuleValue) HasContent() bool {
	return v.RuleContent != ""
}

// Rule is a single allow or deny statement.
type Rule struct {
	Source       Scope     `json:"source"`
	RuleBehavior Behavior  `json:"ruleBehavior"`
	RuleValue    RuleValue `json:"ruleValue"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s (%s)", r.RuleBehavior, r.RuleValue, r.Source)
}

// ReasonType classifies why a decision was reached.
type ReasonType string

const (
	ReasonRule                 ReasonType = "rule"
	ReasonPermissionPromptTool ReasonType = "permissionPromptTool"
	ReasonPathTraversal        ReasonType = "path-traversal"
	ReasonIgnorePattern        ReasonType = "ignore-pattern"
	ReasonDefault              ReasonType = "default"
	// ReasonUser marks decisions taken from an interactive reply.
	ReasonUser ReasonType = "user"
)

// ToolResult is the raw verdict returned by a permission-prompt tool.
type ToolResult map[string]any

// Behavior returns the "behavior" field of the result, if it is a string.
func (r ToolResult) Behavior() Behavior {
	b, _ := r["behavior"].(string)
	return Behavior(b)
}

// DecisionReason is the audit trail attached to a decision.
type DecisionReason struct {
	Type       ReasonType `json:"type"`
	Rule       *Rule      `json:"rule,omitempty"`
	ToolName   string     `json:"toolName,omitempty"`
	ToolResult ToolResult `json:"toolResult,omitempty"`
	Scope      Scope      `json:"scope,omitempty"`
	Path       string     `json:"path,omitempty"`
}

// Decision is the final verdict for one tool invocation.
// Decisions are never mutated after creation.
type Decision struct {
	ID              string          `json:"id"`
	Behavior        Behavior        `json:"behavior"`
	Rule            *Rule           `json:"rule,omitempty"`
	DecisionReason  *DecisionReason `json:"decisionReason,omitempty"`
	RuleSuggestions []RuleValue     `json:"ruleSuggestions"`
	RuleSetVersion  uint64          `json:"ruleSetVersion"`
}

// Invocation is a proposed tool call awaiting a decision.
type Invocation struct {
	ToolName string `json:"toolName"`
	// Content is the command string, path, or resource identifier.
	Content string `json:"content"`
	// Input is the raw tool input forwarded to a permission-prompt tool.
	Input     map[string]any `json:"input,omitempty"`
	SessionID string         `json:"sessionID,omitempty"`
	CallID    string         `json:"callID,omitempty"`
}

var (
	// ErrNoDecision is returned when escalation produced no verdict.
	// Callers must treat it as ask or deny, never as allow.
	ErrNoDecision = errors.New("no permission decision produced")
)

// RejectedError is returned when permission is denied.
type RejectedError struct {
	SessionID string
	ToolName  string
	CallID    string
	Decision  *Decision
	Message   string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}
