// Package permission decides whether an agent-initiated tool invocation is
// allowed, denied, or must be escalated for approval.
//
// # Overview
//
// Rules come from several configuration scopes, listed here from highest to
// lowest precedence:
//
//   - cliArgument: rules passed on the command line
//   - localProjectSettings: uncommitted per-checkout settings
//   - projectSettings: settings committed with the project
//   - policySettings: organization-managed settings
//   - userSettings: global per-user settings
//   - session: rules approved with "always" during the current run
//
// Precedence only orders rules within a behavior class. A matching deny rule
// always beats a matching allow rule, whatever their scopes.
//
// # Rules
//
// A rule string is "Tool" or "Tool(content)":
//
//	Bash                 every Bash invocation
//	Bash(npm test:*)     "npm test" and "npm test --watch", not "npm testing"
//	Bash(git status)     exactly "git status"
//	Edit(src/**)         any file under src, relative to the project root
//	Read(*.env)          .env files at the project root
//	WebFetch(domain:*.example.com)
//	mcp__github          every tool of the github MCP server
//
// Malformed strings never fail to parse; they become a tool name that
// matches nothing.
//
// Edit rules also cover Write, MultiEdit and NotebookEdit. Read rules also
// cover Glob, Grep, LS and NotebookRead.
//
// Bash content is split into leaf commands. A deny rule matches if any leaf
// does, so "Bash(rm:*)" denies "make && rm -rf build". An allow rule must
// match every leaf, and never matches a command hiding a substitution.
//
// # Evaluation
//
// Decide applies, in order:
//
//  1. the path safety gate: a path tool whose path escapes the project root
//     is denied with reason "path-traversal"
//  2. deny rules
//  3. ignore patterns, for read and search tools only ("ignore-pattern")
//  4. allow rules
//
// If nothing matches, Evaluator.Evaluate consults the configured
// PromptResolver, then the configured default behavior, and finally returns
// ask with rule suggestions.
//
//	agg := permission.NewAggregator(loader, root)
//	ev := permission.NewEvaluator(agg, permission.WithPromptResolver(client))
//	d, err := ev.Evaluate(ctx, permission.Invocation{ToolName: "Bash", Content: "rm -rf /tmp/x"})
//
// A prompt tool failure returns ErrNoDecision; it never turns into an allow.
//
// # Snapshots
//
// The Aggregator publishes immutable RuleSet snapshots. Concurrent
// evaluations share a snapshot; reloads are serialized and swap the snapshot
// atomically.
//
// # Interactive approval
//
// Checker wraps an Evaluator for the agent loop. Ask decisions publish a
// permission.required event and block until Respond is called with once,
// always or reject. Denials are returned as *RejectedError.
package permission
