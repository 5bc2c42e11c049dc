// Package mcp connects to Model Context Protocol servers with the official
// MCP Go SDK and exposes their tools under permission-facing names of the
// form "mcp__<server>__<tool>".
//
// Its main consumer is the permission-prompt tool: when no rule resolves an
// invocation, the evaluator calls an MCP tool with the invocation's tool name
// and input and reads a JSON verdict back.
//
// # Transport Types
//
//	TransportTypeStdio  - Communication via stdin/stdout with a subprocess
//	TransportTypeLocal  - Same as stdio, the default for "command" entries
//	TransportTypeRemote - Streamable HTTP, falling back to SSE
//
// Failed connects are retried with exponential backoff. Configuration errors
// such as an empty command are not retried.
//
// # Basic Usage
//
//	client := mcp.NewClient()
//	defer client.Close()
//
//	prompt, err := mcp.ConnectPromptTool(ctx, client, "mcp__approval__approve", settings.MCP)
//	if err != nil {
//		return err
//	}
//
//	evaluator := permission.NewEvaluator(aggregator, permission.WithPromptResolver(prompt))
//
// # Verdicts
//
// The prompt tool answers with a JSON object in its text content:
//
//	{"behavior": "allow", "updatedInput": {...}}
//	{"behavior": "deny", "message": "..."}
//
// Any other behavior is treated by the evaluator as no decision.
package mcp
