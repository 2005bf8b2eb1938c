// Command cuepilot is the CuePilot teleprompter alignment server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuepilot/cuepilot/internal/align"
	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/observe"
	"github.com/cuepilot/cuepilot/internal/server"
	"github.com/cuepilot/cuepilot/internal/session"
	"github.com/cuepilot/cuepilot/internal/similarity"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cuepilot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cuepilot: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cuepilot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cuepilot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	engineOpts := []similarity.Option{}
	if cfg.Similarity.CacheSize > 0 {
		engineOpts = append(engineOpts, similarity.WithCacheSize(cfg.Similarity.CacheSize))
	}
	engine := similarity.New(engineOpts...)
	if err := metrics.RegisterCacheSizeGauge(func() int64 { return int64(engine.CacheLen()) }); err != nil {
		slog.Warn("failed to register cache size gauge", "err", err)
	}

	sessions := session.NewManager(session.ManagerConfig{
		Engine:            engine,
		HighlightDuration: cfg.Alignment.HighlightDuration(),
		Metrics:           metrics,
		Defaults:          alignmentDefaults(cfg.Alignment),
	})

	srv := server.New(cfg.Server, sessions, metrics)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	sessions.Close()

	flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// alignmentDefaults converts the config block into tracker settings,
// filling in built-in defaults for zero values.
func alignmentDefaults(c config.AlignmentConfig) align.Settings {
	s := align.DefaultSettings()
	if c.MatchThreshold > 0 {
		s.MatchThreshold = c.MatchThreshold
	}
	if c.SearchWindowOverride > 0 {
		s.SearchWindowOverride = c.SearchWindowOverride
	}
	if c.AutoScroll != nil {
		s.AutoScroll = *c.AutoScroll
	}
	return s
}

// newLogger builds the default slog text logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
