package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencode-ai/toolguard/pkg/types"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// WriteFile writes content to path, creating parent directories
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// CreateFile creates a file below the project root of ts and returns its
// absolute path
func (ts *TestServer) CreateFile(name, content string) (string, error) {
	path := filepath.Join(ts.WorkDir, name)
	if err := WriteFile(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// ---- Settings Builder ----

// Settings builds a settings.json document
type Settings struct {
	types.Settings
}

// NewSettings starts an empty settings document
func NewSettings() *Settings {
	return &Settings{types.Settings{Permissions: &types.PermissionSettings{}}}
}

// Allow adds allow rules
func (s *Settings) Allow(rules ...string) *Settings {
	s.Permissions.Allow = append(s.Permissions.Allow, rules...)
	return s
}

// Deny adds deny rules
func (s *Settings) Deny(rules ...string) *Settings {
	s.Permissions.Deny = append(s.Permissions.Deny, rules...)
	return s
}

// Ignore adds ignore patterns
func (s *Settings) Ignore(patterns ...string) *Settings {
	s.Permissions.Ignore = append(s.Permissions.Ignore, patterns...)
	return s
}

// DefaultBehavior sets the behavior used when nothing matches
func (s *Settings) DefaultBehavior(b string) *Settings {
	s.Permissions.DefaultBehavior = b
	return s
}

// ManagedOnly restricts allow rules to the policy scope
func (s *Settings) ManagedOnly() *Settings {
	s.Permissions.AllowManagedRulesOnly = true
	return s
}

// JSON renders the document
func (s *Settings) JSON() string {
	data, err := json.MarshalIndent(s.Settings, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("marshal settings: %v", err))
	}
	return string(data)
}
