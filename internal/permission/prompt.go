package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// PromptResolver is an external authority consulted when no rule resolves
// an invocation, such as an MCP approval tool.
type PromptResolver interface {
	// ToolName identifies the prompt tool in decision reasons.
	ToolName() string
	// Resolve asks the tool for a verdict. The result's "behavior" field
	// must be "allow" or "deny" for a decision to be produced.
	Resolve(ctx context.Context, inv Invocation) (ToolResult, error)
}

// PromptFunc adapts a function to PromptResolver.
type PromptFunc struct {
	Name string
	Fn   func(ctx context.Context, inv Invocation) (ToolResult, error)
}

func (p PromptFunc) ToolName() string { return p.Name }

func (p PromptFunc) Resolve(ctx context.Context, inv Invocation) (ToolResult, error) {
	return p.Fn(ctx, inv)
}

// resolveViaPromptTool consults the prompt tool and wraps its verdict.
//
// Allow and deny verdicts become decisions with a permissionPromptTool
// reason; a deny never carries rule suggestions. A failed call, a panic in
// the resolver, or any other verdict returns ErrNoDecision. If ctx is done
// its error is returned instead. A call still running after timeout is
// abandoned with ErrNoDecision.
func resolveViaPromptTool(ctx context.Context, p PromptResolver, inv Invocation, timeout time.Duration) (*Decision, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		catcher panics.Catcher
		result  ToolResult
		err     error
	)
	catcher.Try(func() {
		result, err = p.Resolve(callCtx, inv)
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: prompt tool %s timed out after %s", ErrNoDecision, p.ToolName(), timeout)
	}
	if err == nil {
		err = catcher.Recovered().AsError()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: prompt tool %s failed: %w", ErrNoDecision, p.ToolName(), err)
	}

	behavior := result.Behavior()
	switch behavior {
	case BehaviorAllow, BehaviorDeny:
	default:
		return nil, fmt.Errorf("%w: prompt tool %s returned %q", ErrNoDecision, p.ToolName(), behavior)
	}

	d := newDecision(nil, behavior)
	d.DecisionReason = &DecisionReason{
		Type:       ReasonPermissionPromptTool,
		ToolName:   p.ToolName(),
		ToolResult: result,
	}
	if behavior == BehaviorDeny {
		d.RuleSuggestions = nil
	}
	return d, nil
}
