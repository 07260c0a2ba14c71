package client

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/chatrelay/pkg/protocol"
)

// Settings stores participant preferences persisted as YAML next to the binary.
type Settings struct {
	Relay     string `yaml:"relay"`
	Nickname  string `yaml:"nickname,omitempty"` // last accepted nickname, offered as the default
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Relay:     protocol.DefaultAddr,
		LogLevel:  "warn",
		LogFormat: "text",
	}
}

// SettingsPath returns the default settings file location.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "chatclient.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "chatclient.yaml")
}

// LoadSettings loads settings from the YAML file at path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path from flag or next to the binary
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
