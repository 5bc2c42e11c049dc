package mcp

import (
	"encoding/json"
	"strings"

	"github.com/opencode-ai/toolguard/pkg/types"
)

// Config defines MCP server configuration.
type Config struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// ConfigFromSettings converts a settings file server entry.
func ConfigFromSettings(c types.MCPConfig) *Config {
	t := TransportType(c.Type)
	switch {
	case c.IsRemote():
		t = TransportTypeRemote
	case t == "":
		t = TransportTypeLocal
	}
	return &Config{
		Enabled:     c.IsEnabled(),
		Type:        t,
		URL:         c.URL,
		Headers:     c.Headers,
		Command:     c.Command,
		Environment: c.Environment,
		Timeout:     c.Timeout,
	}
}

// TransportType represents the type of MCP transport.
type TransportType string

const (
	TransportTypeRemote TransportType = "remote"
	TransportTypeLocal  TransportType = "local"
	TransportTypeStdio  TransportType = "stdio"
)

// Tool represents an MCP tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	Name      string      `json:"name"`
	Status    Status      `json:"status"`
	ToolCount int         `json:"toolCount"`
	Info      *ServerInfo `json:"info,omitempty"`
	Error     *string     `json:"error,omitempty"`
}

// Status represents the connection status.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisabled     Status = "disabled"
	StatusFailed       Status = "failed"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// ServerInfo represents information about an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// toolPrefix starts every MCP tool name seen by permission rules.
const toolPrefix = "mcp__"

// QualifiedToolName returns the permission-facing name of a server tool.
func QualifiedToolName(server, tool string) string {
	return toolPrefix + server + "__" + tool
}

// ParseToolName splits "mcp__<server>__<tool>" into its parts. Server names
// may not contain "__"; tool names may.
func ParseToolName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, toolPrefix)
	if !found {
		return "", "", false
	}
	server, tool, found = strings.Cut(rest, "__")
	if !found || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
