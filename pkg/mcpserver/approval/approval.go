// Package approval provides an MCP server exposing a permission-prompt tool
// that answers from a static policy.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/permission"
)

// ToolName is the name of the approval tool.
const ToolName = "approve"

// Policy is the static policy the approval tool answers from.
type Policy struct {
	// RootDir is the project root path rules are relative to.
	RootDir string   `json:"rootDir,omitempty" yaml:"rootDir,omitempty"`
	Allow   []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny    []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	// Default is the verdict when no rule matches: "allow" or "deny".
	// Anything else makes the tool answer "ask", which callers treat as
	// no decision.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// LoadPolicy reads a policy file: YAML for .yaml/.yml, JSON with comments
// otherwise.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return &p, nil
}

// ruleSet builds the permission rule set for the policy.
func (p *Policy) ruleSet() *permission.RuleSet {
	root := p.RootDir
	if root == "" {
		root, _ = os.Getwd()
	}
	rules, _ := permission.Aggregate([]*permission.ScopeConfig{{
		Scope: permission.ScopePolicySettings,
		Allow: p.Allow,
		Deny:  p.Deny,
	}})
	return permission.NewRuleSet(root, rules, nil)
}

// NewServer creates an MCP server with the approval tool.
func NewServer(policy *Policy) *server.MCPServer {
	s := server.NewMCPServer(
		"approval",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	approveTool := mcp.NewTool(ToolName,
		mcp.WithDescription("Decides whether a tool invocation may run"),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the tool being invoked"),
		),
		mcp.WithObject("input",
			mcp.Description("Raw input of the tool invocation"),
		),
	)

	h := &handler{policy: policy, rules: policy.ruleSet()}
	s.AddTool(approveTool, h.approve)

	return s
}

type handler struct {
	policy *Policy
	rules  *permission.RuleSet
}

// approve answers with a JSON verdict: {"behavior": "allow", "updatedInput": ...}
// or {"behavior": "deny", "message": ...}.
func (h *handler) approve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolName, err := request.RequireString("tool_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	input, _ := request.GetArguments()["input"].(map[string]any)
	inv := permission.Invocation{
		ToolName: toolName,
		Input:    input,
		Content:  permission.ContentFromInput(toolName, input),
	}

	log := logging.Component("approval")
	reporter := permission.ErrorReporterFunc(func(err error) {
		log.Warn().Err(err).Msg("policy ignore pattern error")
	})

	verdict := map[string]any{}
	d := permission.Decide(h.rules, inv, reporter)
	switch {
	case d != nil && d.Behavior == permission.BehaviorAllow:
		verdict["behavior"] = "allow"
		verdict["updatedInput"] = input
	case d != nil:
		verdict["behavior"] = "deny"
		verdict["message"] = denyMessage(toolName, d)
	case h.policy.Default == "allow":
		verdict["behavior"] = "allow"
		verdict["updatedInput"] = input
	case h.policy.Default == "deny":
		verdict["behavior"] = "deny"
		verdict["message"] = fmt.Sprintf("%s is not allowed by policy", toolName)
	default:
		verdict["behavior"] = "ask"
	}

	log.Debug().Str("tool", toolName).Interface("behavior", verdict["behavior"]).Msg("approval verdict")

	data, err := json.Marshal(verdict)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func denyMessage(toolName string, d *permission.Decision) string {
	if d.Rule != nil {
		return fmt.Sprintf("%s denied by rule %s", toolName, d.Rule.RuleValue.String())
	}
	if d.DecisionReason != nil {
		return fmt.Sprintf("%s denied: %s", toolName, d.DecisionReason.Type)
	}
	return fmt.Sprintf("%s denied", toolName)
}
