package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppDir is the directory name used below each base directory, and the
// project-level settings directory is "." + AppDir.
const AppDir = "opencode"

// Paths are the per-user base directories of toolguard.
type Paths struct {
	Data   string // $XDG_DATA_HOME/opencode
	Config string // $XDG_CONFIG_HOME/opencode
	State  string // $XDG_STATE_HOME/opencode
}

// xdgBase lists the environment override and the fallback below $HOME of
// each base directory.
var xdgBase = map[string][]string{
	"XDG_DATA_HOME":   {".local", "share"},
	"XDG_CONFIG_HOME": {".config"},
	"XDG_STATE_HOME":  {".local", "state"},
}

func baseDir(env string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(append([]string{os.Getenv("HOME")}, xdgBase[env]...)...)
}

// GetPaths resolves Paths from the environment.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(baseDir("XDG_DATA_HOME"), AppDir),
		Config: filepath.Join(baseDir("XDG_CONFIG_HOME"), AppDir),
		State:  filepath.Join(baseDir("XDG_STATE_HOME"), AppDir),
	}
}

// AuditPath is the default directory of the decision audit log.
func (p *Paths) AuditPath() string {
	return filepath.Join(p.Data, "toolguard", "audit")
}

// LogPath is the directory of log files.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "toolguard", "log")
}

// ManagedSettingsPath returns where administrators install the policy
// settings file on this platform.
func ManagedSettingsPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Application Support/OpenCode/managed-settings.json"
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "OpenCode", "managed-settings.json")
	}
	return filepath.Join("/etc", AppDir, "managed-settings.json")
}

// UserSettingsPath is the settings file of the userSettings scope.
func UserSettingsPath(configDir string) string {
	return filepath.Join(configDir, "settings.json")
}

// ProjectSettingsPath is the committed settings file of the projectSettings
// scope.
func ProjectSettingsPath(rootDir string) string {
	return filepath.Join(rootDir, "."+AppDir, "settings.json")
}

// LocalSettingsPath is the uncommitted settings file of the
// localProjectSettings scope.
func LocalSettingsPath(rootDir string) string {
	return filepath.Join(rootDir, "."+AppDir, "settings.local.json")
}
