package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/chatrelay/pkg/events"
	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/server"
	"github.com/NicolasHaas/chatrelay/pkg/store"
	"github.com/NicolasHaas/chatrelay/pkg/version"
)

func main() {
	def := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags override its values)")
	listen := flag.String("listen", def.ListenAddr, "UDP bind address")
	staleThreshold := flag.Int("stale-threshold", def.StaleThreshold, "Sequence gap after which a silent participant is evicted")
	exitWhenEmpty := flag.Bool("exit-when-empty", def.ExitWhenEmpty, "Stop once the last participant leaves")
	pinEndpoints := flag.Bool("pin-endpoints", def.PinEndpoints, "Drop messages for a nickname from any address but the one it joined from")
	metricsAddr := flag.String("metrics", def.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	metricsInterval := flag.Duration("metrics-log-interval", def.MetricsLogInterval, "Periodic metrics log interval (0 to disable)")
	transcript := flag.String("transcript", def.TranscriptPath, "SQLite transcript file (empty to disable)")
	natsURL := flag.String("nats", def.NATSURL, "NATS server URL for the event mirror (empty to disable)")
	natsPrefix := flag.String("nats-prefix", def.NATSSubjectPrefix, "NATS subject prefix")
	logLevel := flag.String("log-level", def.Log.Level, "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", def.Log.Format, "Log format: text or json")
	logFile := flag.String("log-file", def.Log.File, "Also write logs to this rotating file")

	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	exportTranscript := flag.Bool("export-transcript", false, "Export the transcript as YAML and exit")
	exportLimit := flag.Int64("export-limit", -1, "Maximum entries to export (-1 for all)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = server.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listen
		case "stale-threshold":
			cfg.StaleThreshold = *staleThreshold
		case "exit-when-empty":
			cfg.ExitWhenEmpty = *exitWhenEmpty
		case "pin-endpoints":
			cfg.PinEndpoints = *pinEndpoints
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "metrics-log-interval":
			cfg.MetricsLogInterval = *metricsInterval
		case "transcript":
			cfg.TranscriptPath = *transcript
		case "nats":
			cfg.NATSURL = *natsURL
		case "nats-prefix":
			cfg.NATSSubjectPrefix = *natsPrefix
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		case "log-file":
			cfg.Log.File = *logFile
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		data, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	// Configure structured logging
	cfg.Log.Output = os.Stdout
	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	// Handle export command (run and exit)
	if *exportTranscript {
		if cfg.TranscriptPath == "" {
			slog.Error("export transcript: no transcript path configured")
			os.Exit(1)
		}
		st, err := store.New(cfg.TranscriptPath)
		if err != nil {
			slog.Error("open transcript", "err", err)
			os.Exit(1)
		}
		defer st.Close()

		data, err := server.ExportTranscriptYAML(context.Background(), st, *exportLimit)
		if err != nil {
			slog.Error("export transcript", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	slog.Info("starting chat relay", "version", version.Full())

	var deps server.Dependencies
	if cfg.TranscriptPath != "" {
		st, err := store.New(cfg.TranscriptPath)
		if err != nil {
			slog.Error("open transcript", "err", err)
			os.Exit(1)
		}
		deps.Transcript = st
	}
	if cfg.NATSURL != "" {
		pub, err := events.DialNATS(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			// The event mirror is optional; the relay runs without it.
			slog.Warn("event mirror disabled", "url", cfg.NATSURL, "err", err)
		} else {
			deps.Events = pub
		}
	}

	srv := server.New(cfg, deps)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}
