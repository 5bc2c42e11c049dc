package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Env.
const EnvPrefix = "TOOLGUARD"

// Env holds settings taken from the environment, as TOOLGUARD_<NAME>.
type Env struct {
	ConfigDir       string        `envconfig:"CONFIG_DIR"`
	ManagedSettings string        `envconfig:"MANAGED_SETTINGS"`
	PromptTool      string        `envconfig:"PROMPT_TOOL"`
	PromptTimeout   time.Duration `envconfig:"PROMPT_TIMEOUT" default:"30s"`
	DefaultBehavior string        `envconfig:"DEFAULT_BEHAVIOR"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile         bool          `envconfig:"LOG_FILE"`
	Addr            string        `envconfig:"ADDR" default:"127.0.0.1:4097"`
	AuditDir        string        `envconfig:"AUDIT_DIR"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

// UserConfigDir returns the directory holding the user settings file.
// TOOLGUARD_CONFIG_DIR wins over the XDG location.
func (e Env) UserConfigDir() string {
	if e.ConfigDir != "" {
		return e.ConfigDir
	}
	return GetPaths().Config
}

// ManagedSettingsPath returns the policy settings file location.
func (e Env) ManagedSettingsPath() string {
	if e.ManagedSettings != "" {
		return e.ManagedSettings
	}
	return ManagedSettingsPath()
}

// AuditPath returns the audit log directory.
func (e Env) AuditPath() string {
	if e.AuditDir != "" {
		return e.AuditDir
	}
	return GetPaths().AuditPath()
}
