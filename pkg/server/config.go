package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/chatrelay/pkg/events"
	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/protocol"
	"github.com/NicolasHaas/chatrelay/pkg/store"
)

// Config holds relay configuration.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`     // UDP bind address
	StaleThreshold int    `yaml:"stale_threshold"` // sequence gap that marks a session stale
	ExitWhenEmpty  bool   `yaml:"exit_when_empty"` // stop once the last participant leaves
	PinEndpoints   bool   `yaml:"pin_endpoints"`   // drop chat from an address other than the joining one

	MetricsAddr        string        `yaml:"metrics_addr"`         // HTTP bind address for /metrics (empty = disabled)
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"` // periodic metrics log (0 = disabled)

	TranscriptPath string `yaml:"transcript_path"` // SQLite transcript file (empty = disabled)

	NATSURL           string `yaml:"nats_url"`            // event mirror (empty = disabled)
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"` // subject prefix for mirrored events

	Log logging.Options `yaml:"log"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         protocol.DefaultAddr,
		StaleThreshold:     DefaultStaleThreshold,
		MetricsAddr:        "127.0.0.1:4097",
		MetricsLogInterval: 60 * time.Second,
		NATSSubjectPrefix:  events.DefaultSubjectPrefix,
		Log: logging.Options{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML data over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// YAML returns the config as YAML.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(&c)
}

// Validate checks the config for values the relay cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := net.ResolveUDPAddr("udp4", c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err))
	}
	if c.StaleThreshold < 1 {
		errs = append(errs, fmt.Errorf("stale_threshold must be at least 1, got %d", c.StaleThreshold))
	}
	if c.MetricsLogInterval < 0 {
		errs = append(errs, errors.New("metrics_log_interval must not be negative"))
	}
	if c.NATSURL != "" && c.NATSSubjectPrefix == "" {
		errs = append(errs, errors.New("nats_subject_prefix is required when nats_url is set"))
	}
	if err := logging.Validate(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TranscriptExport is the top-level YAML for a transcript export.
type TranscriptExport struct {
	Entries []model.Entry `yaml:"entries"`
}

// ExportTranscriptYAML exports up to limit transcript entries as YAML.
// A negative limit exports everything.
func ExportTranscriptYAML(ctx context.Context, st store.Transcript, limit int64) ([]byte, error) {
	entries, err := st.List(ctx, model.EntryFilter{Limit: &limit})
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(&TranscriptExport{Entries: entries})
}
