package config

import (
	"os"
	"path/filepath"
)

// RootPath returns the runtime's data directory: $AGENTRT_PATH if set,
// otherwise ~/.agentrt.
func RootPath() string {
	if v := os.Getenv("AGENTRT_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".agentrt")
	}
	return filepath.Join(home, ".agentrt")
}

// ConfigPath returns the path to the root JSONC config file.
func ConfigPath() string {
	return filepath.Join(RootPath(), "config.jsonc")
}

// DotenvPath returns the path to the runtime's .env file.
func DotenvPath() string {
	return filepath.Join(RootPath(), ".env")
}

// SessionsDir returns the root directory under which SessionStore keeps
// one subdirectory per session (spec §4.3).
func SessionsDir() string {
	return filepath.Join(RootPath(), "sessions")
}

// PluginsDir returns the default WASM plugin directory.
func PluginsDir() string {
	return filepath.Join(RootPath(), "plugins")
}

// AgeKeyPath returns the default age identity file path.
func AgeKeyPath() string {
	return filepath.Join(RootPath(), ".age-key")
}

// MonitoringDBPath returns the default sqlite index path for the
// monitoring pattern's judge-verdict history.
func MonitoringDBPath() string {
	return filepath.Join(RootPath(), "monitoring.db")
}
