package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.BaseDelayMs == 0 {
		cfg.BaseDelayMs = DefaultBaseDelayMs
	}
	if cfg.MaxDelayMs == 0 {
		cfg.MaxDelayMs = DefaultMaxDelayMs
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.CacheTTLMinutes == 0 {
		cfg.CacheTTLMinutes = DefaultCacheTTLMinutes
	}
	if cfg.BatchChunkSize == 0 {
		cfg.BatchChunkSize = DefaultBatchChunkSize
	}
	if cfg.BatchChunkDelayMs == 0 {
		cfg.BatchChunkDelayMs = DefaultBatchChunkDelayMs
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	if cfg.MessageTimeoutMs == 0 {
		cfg.MessageTimeoutMs = DefaultMessageTimeoutMs
	}
	if cfg.PingIntervalMs == 0 {
		cfg.PingIntervalMs = DefaultPingIntervalMs
	}
	if cfg.ReadTimeoutMs == 0 {
		cfg.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if cfg.StatsLogIntervalSec == 0 {
		cfg.StatsLogIntervalSec = DefaultStatsLogIntervalSec
	}
	if cfg.TransformTimeoutMs == 0 {
		cfg.TransformTimeoutMs = DefaultTransformTimeoutMs
	}

	for i := range cfg.Watches {
		if cfg.Watches[i].Priority == "" {
			cfg.Watches[i].Priority = "medium"
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.StoreURL == "" {
		return errors.New("storeUrl is required")
	}
	if !strings.HasPrefix(cfg.StoreURL, "ws://") && !strings.HasPrefix(cfg.StoreURL, "wss://") {
		return fmt.Errorf("storeUrl must be a ws:// or wss:// URL, got '%s'", cfg.StoreURL)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.MaxConnections < 1 {
		return fmt.Errorf("maxConnections must be positive")
	}
	if cfg.BaseDelayMs < 1 {
		return fmt.Errorf("baseDelayMs must be positive")
	}
	if cfg.MaxDelayMs < cfg.BaseDelayMs {
		return fmt.Errorf("maxDelayMs must be >= baseDelayMs")
	}
	if cfg.MaxReconnectAttempts < 0 {
		return fmt.Errorf("maxReconnectAttempts must be non-negative")
	}
	if cfg.CacheTTLMinutes < 1 {
		return fmt.Errorf("cacheTtlMinutes must be positive")
	}
	if cfg.BatchChunkSize < 1 {
		return fmt.Errorf("batchChunkSize must be positive")
	}
	if cfg.BatchChunkDelayMs < 0 {
		return fmt.Errorf("batchChunkDelayMs must be non-negative")
	}
	if cfg.DedupCacheSize < 0 {
		return fmt.Errorf("dedupCacheSize must be non-negative")
	}

	validPriorities := map[string]bool{
		"high":   true,
		"medium": true,
		"low":    true,
	}
	for i, watch := range cfg.Watches {
		if watch.Path == "" {
			return fmt.Errorf("watch[%d]: path is required", i)
		}
		if !validPriorities[watch.Priority] {
			return fmt.Errorf("watch[%d] '%s': priority must be high, medium, or low", i, watch.Path)
		}
		if watch.Limit < 0 {
			return fmt.Errorf("watch[%d] '%s': limit must be non-negative", i, watch.Path)
		}
	}

	return nil
}
