package types

// Settings is the on-disk shape of a settings file. The same schema is used
// by every scope; user, project, local and managed policy files differ only
// in where they live.
type Settings struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	Permissions *PermissionSettings `json:"permissions,omitempty" yaml:"permissions,omitempty"`

	// PermissionPromptTool names the MCP tool consulted when no rule
	// resolves an invocation, as "mcp__<server>__<tool>".
	PermissionPromptTool string `json:"permissionPromptTool,omitempty" yaml:"permissionPromptTool,omitempty"`

	// MCP servers, keyed by server name.
	MCP map[string]MCPConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"`

	// Deprecated: top-level keys from older releases. They are reported
	// and otherwise ignored.
	AllowedTools   []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	IgnorePatterns []string `json:"ignorePatterns,omitempty" yaml:"ignorePatterns,omitempty"`
}

// PermissionSettings holds the rules of one settings file.
type PermissionSettings struct {
	Allow  []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny   []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`

	// DefaultBehavior applies when no rule matches and no prompt tool is
	// configured: "allow", "deny" or "ask".
	DefaultBehavior string `json:"defaultBehavior,omitempty" yaml:"defaultBehavior,omitempty"`

	// AllowManagedRulesOnly is honored in managed policy settings only.
	AllowManagedRulesOnly bool `json:"allowManagedRulesOnly,omitempty" yaml:"allowManagedRulesOnly,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty" yaml:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
}

// IsEnabled reports whether the server is enabled. Servers are enabled
// unless explicitly disabled.
func (c MCPConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsRemote reports whether the server is reached over HTTP.
func (c MCPConfig) IsRemote() bool {
	return c.Type == "remote" || (c.Type == "" && c.URL != "")
}
