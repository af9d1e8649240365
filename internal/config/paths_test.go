package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootPath_Default(t *testing.T) {
	t.Setenv("AGENTRT_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := RootPath()
	want := filepath.Join(home, ".agentrt")
	if got != want {
		t.Errorf("RootPath() = %q, want %q", got, want)
	}
}

func TestRootPath_EnvOverride(t *testing.T) {
	t.Setenv("AGENTRT_PATH", "/tmp/custom-agentrt")

	got := RootPath()
	want := "/tmp/custom-agentrt"
	if got != want {
		t.Errorf("RootPath() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("AGENTRT_PATH", "/tmp/test-agentrt")

	got := ConfigPath()
	want := "/tmp/test-agentrt/config.jsonc"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestDotenvPath(t *testing.T) {
	t.Setenv("AGENTRT_PATH", "/tmp/test-agentrt")

	got := DotenvPath()
	want := "/tmp/test-agentrt/.env"
	if got != want {
		t.Errorf("DotenvPath() = %q, want %q", got, want)
	}
}

func TestPluginsDir(t *testing.T) {
	t.Setenv("AGENTRT_PATH", "/tmp/test-agentrt")
	if got, want := PluginsDir(), "/tmp/test-agentrt/plugins"; got != want {
		t.Errorf("PluginsDir() = %q, want %q", got, want)
	}
}
