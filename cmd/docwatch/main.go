package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"docwatch/internal/backoff"
	"docwatch/internal/config"
	"docwatch/internal/listener"
	"docwatch/internal/store"
	"docwatch/internal/transform"
	"docwatch/internal/visibility"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", *configPath).
		Str("storeUrl", cfg.StoreURL).
		Int("maxConnections", cfg.MaxConnections).
		Int("watches", len(cfg.Watches)).
		Msg("starting docwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := store.NewClient(store.ClientConfig{
		URL:            cfg.StoreURL,
		MessageTimeout: cfg.MessageTimeout(),
		PingInterval:   cfg.PingInterval(),
	}, logger)

	dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
	err = client.Dial(dialCtx)
	dialCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to store")
	}

	manager := listener.NewManager(client, listener.Config{
		MaxConnections: cfg.MaxConnections,
		Backoff: backoff.Policy{
			Base:        cfg.BaseDelay(),
			Max:         cfg.MaxDelay(),
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		DedupSize:   cfg.DedupCacheSize,
		ReadTimeout: cfg.ReadTimeout(),
	}, logger)

	if cfg.TransformsDir != "" {
		transforms := transform.NewManager(logger)
		transforms.SetTimeout(cfg.TransformTimeout())
		if err := transforms.LoadFromDirectory(cfg.TransformsDir); err != nil {
			logger.Fatal().Err(err).Msg("failed to load transforms")
		}
		manager.SetTransform(transforms.Apply)
	}

	// SIGUSR1 pauses all subscriptions, SIGUSR2 resumes them.
	manager.Bind(visibility.NewSignalSource(ctx))

	for _, watch := range cfg.Watches {
		w := watch
		id := manager.Subscribe(w.Path, listener.Options{
			Limit:        w.Limit,
			OrderByField: w.OrderBy,
			Once:         w.Once,
			Priority:     listener.Priority(w.Priority),
		}, func(snap *store.Snapshot) {
			logger.Info().
				Str("path", snap.Path).
				Bool("exists", snap.Exists).
				Time("updatedAt", snap.UpdatedAt).
				RawJSON("data", snap.Data).
				Msg("snapshot")
		})
		if id == "" {
			logger.Warn().Str("path", w.Path).Msg("watch rejected")
		}
	}

	go logStats(ctx, manager, cfg.StatsLogInterval(), logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	manager.Close()
	client.Close()
	cancel()
}

// logStats periodically reports registry counters.
func logStats(ctx context.Context, manager *listener.Manager, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := manager.Stats()
			logger.Info().
				Int("active", s.ActiveConnections).
				Int("max", s.MaxConnections).
				Int("pending", s.PendingConnections).
				Int("created", s.TotalCreated).
				Int("removed", s.TotalRemoved).
				Int("reconnectAttempts", s.ReconnectAttempts).
				Bool("paused", s.Paused).
				Msg("subscription stats")
		}
	}
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
