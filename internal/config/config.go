package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/opencode-ai/toolguard/internal/logging"
	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/pkg/types"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Loader reads settings files for every scope. It implements
// permission.ScopeProvider.
type Loader struct {
	fs      afero.Fs
	rootDir string
	env     Env

	cliAllow []string
	cliDeny  []string

	// overrides replaces the settings file of a scope.
	overrides map[permission.Scope]string

	mu     sync.Mutex
	warned map[string]bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithFs sets the filesystem settings are read from.
func WithFs(fsys afero.Fs) Option {
	return func(l *Loader) { l.fs = fsys }
}

// WithEnv sets the environment configuration.
func WithEnv(env Env) Option {
	return func(l *Loader) { l.env = env }
}

// WithCLIRules sets the rules of the cliArgument scope.
func WithCLIRules(allow, deny []string) Option {
	return func(l *Loader) {
		l.cliAllow = allow
		l.cliDeny = deny
	}
}

// WithScopeFile reads a scope's settings from path instead of its usual
// location. Only that exact file is tried.
func WithScopeFile(scope permission.Scope, path string) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = make(map[permission.Scope]string)
		}
		l.overrides[scope] = path
	}
}

// NewLoader creates a loader for the project at rootDir.
func NewLoader(rootDir string, opts ...Option) *Loader {
	l := &Loader{
		fs:      afero.NewOsFs(),
		rootDir: rootDir,
		warned:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RootDir returns the project root.
func (l *Loader) RootDir() string { return l.rootDir }

// SettingsPath returns the primary settings file of a scope, or "" for
// scopes that are not file-backed.
func (l *Loader) SettingsPath(scope permission.Scope) string {
	if p, ok := l.overrides[scope]; ok {
		return p
	}
	switch scope {
	case permission.ScopeUserSettings:
		return UserSettingsPath(l.env.UserConfigDir())
	case permission.ScopeProjectSettings:
		return ProjectSettingsPath(l.rootDir)
	case permission.ScopeLocalProjectSettings:
		return LocalSettingsPath(l.rootDir)
	case permission.ScopePolicySettings:
		return l.env.ManagedSettingsPath()
	default:
		return ""
	}
}

// candidates lists the files tried for a scope, in order. Besides the
// primary JSON file, JSONC and YAML variants are accepted. The managed
// policy path is used as given.
func (l *Loader) candidates(scope permission.Scope) []string {
	primary := l.SettingsPath(scope)
	if primary == "" {
		return nil
	}
	if _, ok := l.overrides[scope]; ok || scope == permission.ScopePolicySettings {
		return []string{primary}
	}
	base := strings.TrimSuffix(primary, filepath.Ext(primary))
	return []string{primary, base + ".jsonc", base + ".yaml", base + ".yml"}
}

// Files returns every settings file the loader may read, across scopes.
func (l *Loader) Files() []string {
	var files []string
	for _, scope := range permission.Scopes() {
		files = append(files, l.candidates(scope)...)
	}
	return files
}

// WatchDirs returns the directories that hold settings files.
func (l *Loader) WatchDirs() []string {
	var dirs []string
	for _, scope := range permission.Scopes() {
		if p := l.SettingsPath(scope); p != "" {
			dir := filepath.Dir(p)
			if !slices.Contains(dirs, dir) {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs
}

// LoadScope implements permission.ScopeProvider. A scope without a
// settings file yields nil, nil.
func (l *Loader) LoadScope(ctx context.Context, scope permission.Scope) (*permission.ScopeConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch scope {
	case permission.ScopeCLIArgument:
		if len(l.cliAllow) == 0 && len(l.cliDeny) == 0 {
			return nil, nil
		}
		return &permission.ScopeConfig{
			Scope:   scope,
			BaseDir: l.rootDir,
			Allow:   l.cliAllow,
			Deny:    l.cliDeny,
		}, nil
	case permission.ScopeSession:
		return nil, nil
	}

	settings, _, err := l.ReadSettings(scope)
	if err != nil || settings == nil {
		return nil, err
	}

	c := &permission.ScopeConfig{Scope: scope, BaseDir: l.rootDir}
	if p := settings.Permissions; p != nil {
		c.Allow = p.Allow
		c.Deny = p.Deny
		c.Ignore = p.Ignore
		c.AllowManagedRulesOnly = p.AllowManagedRulesOnly
	}
	return c, nil
}

// ReadSettings reads the settings file of a scope with placeholders
// expanded. It returns nil settings when no file exists.
func (l *Loader) ReadSettings(scope permission.Scope) (*types.Settings, string, error) {
	return l.read(scope, true)
}

func (l *Loader) read(scope permission.Scope, expand bool) (*types.Settings, string, error) {
	for _, path := range l.candidates(scope) {
		data, err := afero.ReadFile(l.fs, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, fmt.Errorf("read %s settings: %w", scope, err)
		}

		if expand {
			data = l.interpolate(data, filepath.Dir(path))
		}
		settings, err := parseSettings(path, data)
		if err != nil {
			return nil, path, fmt.Errorf("parse %s: %w", path, err)
		}
		l.warnDeprecated(path, settings)
		return settings, path, nil
	}
	return nil, "", nil
}

// parseSettings decodes YAML by extension and JSON with comments otherwise.
func parseSettings(path string, data []byte) (*types.Settings, error) {
	var settings types.Settings
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, err
		}
	default:
		// Strip JSONC comments using tidwall/jsonc
		if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
			return nil, err
		}
	}
	return &settings, nil
}

// warnDeprecated reports legacy top-level keys, once per file.
func (l *Loader) warnDeprecated(path string, s *types.Settings) {
	var keys []string
	if len(s.AllowedTools) > 0 {
		keys = append(keys, "allowedTools")
	}
	if len(s.IgnorePatterns) > 0 {
		keys = append(keys, "ignorePatterns")
	}
	if len(keys) == 0 {
		return
	}

	l.mu.Lock()
	seen := l.warned[path]
	l.warned[path] = true
	l.mu.Unlock()
	if seen {
		return
	}

	logging.Component("config").Warn().
		Str("path", path).
		Strs("keys", keys).
		Msg("deprecated settings keys are ignored; move them to permissions.allow and permissions.ignore")
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func (l *Loader) interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := afero.ReadFile(l.fs, filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(strings.TrimRight(string(content), "\n"), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// Resolved is the merged, non-rule part of all settings.
type Resolved struct {
	PermissionPromptTool string
	DefaultBehavior      permission.Behavior
	MCP                  map[string]types.MCPConfig
	// Files maps each scope to the settings file it was read from.
	Files map[permission.Scope]string
}

// Resolve merges scalar settings across scopes. The highest-precedence
// scope that sets a value wins, and the environment wins over every file.
// Unreadable scopes are logged and skipped.
func (l *Loader) Resolve(ctx context.Context) (*Resolved, error) {
	log := logging.Component("config")
	r := &Resolved{
		MCP:   make(map[string]types.MCPConfig),
		Files: make(map[permission.Scope]string),
	}

	scopes := permission.Scopes()
	for i := len(scopes) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scope := scopes[i]
		settings, path, err := l.ReadSettings(scope)
		if err != nil {
			log.Warn().Err(err).Str("scope", string(scope)).Msg("settings unreadable, skipping")
			continue
		}
		if settings == nil {
			continue
		}
		r.Files[scope] = path
		mergeSettings(r, settings)
	}

	if l.env.PromptTool != "" {
		r.PermissionPromptTool = l.env.PromptTool
	}
	if l.env.DefaultBehavior != "" {
		r.DefaultBehavior = permission.Behavior(l.env.DefaultBehavior)
	}
	if r.DefaultBehavior != "" && !r.DefaultBehavior.Valid() {
		log.Warn().Str("defaultBehavior", string(r.DefaultBehavior)).Msg("unknown default behavior, using ask")
		r.DefaultBehavior = ""
	}
	return r, nil
}

// mergeSettings merges source settings into target.
func mergeSettings(target *Resolved, source *types.Settings) {
	if source.PermissionPromptTool != "" {
		target.PermissionPromptTool = source.PermissionPromptTool
	}
	if source.Permissions != nil && source.Permissions.DefaultBehavior != "" {
		target.DefaultBehavior = permission.Behavior(source.Permissions.DefaultBehavior)
	}
	for k, v := range source.MCP {
		target.MCP[k] = v
	}
}

// AddRules appends rules to a scope's settings file, creating it if
// needed. Rules already present are skipped. Placeholders in the existing
// file are preserved.
func (l *Loader) AddRules(scope permission.Scope, behavior permission.Behavior, rules ...string) (string, error) {
	settings, path, err := l.read(scope, false)
	if err != nil {
		return "", err
	}
	if settings == nil {
		settings = &types.Settings{}
		path = l.SettingsPath(scope)
	}
	if path == "" {
		return "", fmt.Errorf("scope %s has no settings file", scope)
	}
	if settings.Permissions == nil {
		settings.Permissions = &types.PermissionSettings{}
	}

	var list *[]string
	switch behavior {
	case permission.BehaviorAllow:
		list = &settings.Permissions.Allow
	case permission.BehaviorDeny:
		list = &settings.Permissions.Deny
	default:
		return "", fmt.Errorf("cannot persist %q rules", behavior)
	}
	for _, r := range rules {
		if !slices.Contains(*list, r) {
			*list = append(*list, r)
		}
	}

	return path, l.Save(settings, path)
}

// Save writes settings to path, as YAML for .yaml/.yml files and indented
// JSON otherwise.
func (l *Loader) Save(settings *types.Settings, path string) error {
	// Ensure directory exists
	if err := l.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(settings)
	default:
		data, err = json.MarshalIndent(settings, "", "  ")
	}
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, data, 0644); err != nil {
		return err
	}
	return l.fs.Rename(tmp, path)
}
