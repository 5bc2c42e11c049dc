package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/pkg/types"
)

// PromptTool is a permission-prompt tool served by an MCP server. It
// implements permission.PromptResolver.
type PromptTool struct {
	client *Client
	name   string
	server string
	tool   string
	// timeout bounds one call; zero leaves it to the caller's context.
	timeout time.Duration
}

// NewPromptTool returns the prompt tool named "mcp__<server>__<tool>" on a
// server already added to client.
func NewPromptTool(client *Client, name string) (*PromptTool, error) {
	server, tool, ok := ParseToolName(name)
	if !ok {
		return nil, fmt.Errorf("invalid prompt tool name %q: want mcp__<server>__<tool>", name)
	}
	return &PromptTool{client: client, name: name, server: server, tool: tool}, nil
}

// ConnectPromptTool adds the server named by the prompt tool from the
// configured MCP servers and returns the tool.
func ConnectPromptTool(ctx context.Context, client *Client, name string, servers map[string]types.MCPConfig) (*PromptTool, error) {
	p, err := NewPromptTool(client, name)
	if err != nil {
		return nil, err
	}

	cfg, ok := servers[p.server]
	if !ok {
		return nil, fmt.Errorf("prompt tool %s: MCP server %q is not configured", name, p.server)
	}
	p.timeout = time.Duration(cfg.Timeout) * time.Millisecond
	if _, err := client.GetServer(p.server); err != nil {
		if err := client.AddServer(ctx, p.server, ConfigFromSettings(cfg)); err != nil {
			return nil, fmt.Errorf("prompt tool %s: %w", name, err)
		}
	}
	return p, nil
}

func (p *PromptTool) ToolName() string { return p.name }

// Resolve calls the tool with {tool_name, input} and decodes the JSON
// object in its text output. The server's configured timeout bounds the
// call.
func (p *PromptTool) Resolve(ctx context.Context, inv permission.Invocation) (permission.ToolResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	input := inv.Input
	if input == nil {
		input = permission.InputFromContent(inv.ToolName, inv.Content)
	}

	text, err := p.client.CallTool(ctx, p.server, p.tool, map[string]any{
		"tool_name": inv.ToolName,
		"input":     input,
	})
	if err != nil {
		return nil, err
	}

	var result permission.ToolResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &result); err != nil {
		return nil, fmt.Errorf("invalid prompt tool response: %w", err)
	}
	return result, nil
}
