// Package config loads permission settings files and resolves standard paths.
//
// # Settings Scopes
//
// Each file-backed permission scope has its own settings file:
//
//   - userSettings: ~/.config/opencode/settings.json (TOOLGUARD_CONFIG_DIR overrides the directory)
//   - projectSettings: <root>/.opencode/settings.json
//   - localProjectSettings: <root>/.opencode/settings.local.json
//   - policySettings: a managed, platform-specific file (TOOLGUARD_MANAGED_SETTINGS overrides it)
//
// The cliArgument scope comes from command-line flags and the session scope
// lives in memory, so neither is read from disk. Loader implements
// permission.ScopeProvider and is normally handed to permission.NewAggregator.
//
// # Supported Formats
//
// Settings files are JSON with comments (processed using tidwall/jsonc) or
// YAML. Next to settings.json the loader also tries settings.jsonc,
// settings.yaml and settings.yml, and uses the first one found:
//
//	{
//	  // rules are "Tool" or "Tool(content)"
//	  "permissions": {
//	    "allow": ["Bash(npm test:*)", "Edit(src/**)"],
//	    "deny": ["Bash(rm -rf:*)", "WebFetch(domain:*.internal)"],
//	    "ignore": ["*.log", "build/"]
//	  },
//	  "permissionPromptTool": "mcp__approval__approve",
//	  "mcp": {
//	    "approval": {"type": "local", "command": ["approval-mcp", "--policy", "{file:policy.json}"]}
//	  }
//	}
//
// # Variable Interpolation
//
// Settings files support two kinds of placeholder:
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents, escaped for a JSON string
//
// Relative {file:} paths resolve against the settings file's directory and
// ~/ expands to the home directory.
//
// # Deprecated Keys
//
// Top-level allowedTools and ignorePatterns keys from older releases are
// not consumed. Each file carrying them is reported once with a warning.
//
// # Environment
//
// Env is read with envconfig using the TOOLGUARD prefix, for example
// TOOLGUARD_PROMPT_TOOL and TOOLGUARD_DEFAULT_BEHAVIOR. Environment values
// win over every settings file in Resolve.
package config
