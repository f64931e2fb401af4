package config

import "time"

// Defaults applied to unset fields.
const (
	DefaultLogLevel             = "info"
	DefaultMaxConnections       = 10
	DefaultBaseDelayMs          = 1000
	DefaultMaxDelayMs           = 30000
	DefaultMaxReconnectAttempts = 5
	DefaultCacheTTLMinutes      = 5
	DefaultBatchChunkSize       = 5
	DefaultBatchChunkDelayMs    = 100
	DefaultDedupCacheSize       = 1000
	DefaultMessageTimeoutMs     = 30000
	DefaultPingIntervalMs       = 30000
	DefaultStatsLogIntervalSec  = 60
	DefaultReadTimeoutMs        = 15000
	DefaultTransformTimeoutMs   = 5000
)

// WatchConfig describes one subscription the daemon opens at startup.
type WatchConfig struct {
	Path     string `json:"path"`
	Priority string `json:"priority"` // high, medium, low
	Limit    int    `json:"limit"`
	OrderBy  string `json:"orderBy"`
	Once     bool   `json:"once"`
}

// Config is the daemon configuration.
type Config struct {
	StoreURL string `json:"storeUrl"`
	LogLevel string `json:"logLevel"`

	// Shared connection budget across the whole process.
	MaxConnections int `json:"maxConnections"`

	// Retry policy for delivery errors and resume scheduling.
	BaseDelayMs          int `json:"baseDelayMs"`
	MaxDelayMs           int `json:"maxDelayMs"`
	MaxReconnectAttempts int `json:"maxReconnectAttempts"`

	CacheTTLMinutes   int `json:"cacheTtlMinutes"`
	BatchChunkSize    int `json:"batchChunkSize"`
	BatchChunkDelayMs int `json:"batchChunkDelayMs"`
	DedupCacheSize    int `json:"dedupCacheSize"`

	MessageTimeoutMs    int `json:"messageTimeoutMs"`
	PingIntervalMs      int `json:"pingIntervalMs"`
	ReadTimeoutMs       int `json:"readTimeoutMs"`
	StatsLogIntervalSec int `json:"statsLogInterval"`

	TransformsDir      string `json:"transformsDir"`
	TransformTimeoutMs int    `json:"transformTimeoutMs"`

	Watches []WatchConfig `json:"watches"`
}

// BaseDelay returns the retry base delay as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// BatchChunkDelay returns the inter-chunk delay as a duration.
func (c *Config) BatchChunkDelay() time.Duration {
	return time.Duration(c.BatchChunkDelayMs) * time.Millisecond
}

// MessageTimeout returns the store request timeout as a duration.
func (c *Config) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutMs) * time.Millisecond
}

// PingInterval returns the keepalive interval as a duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// ReadTimeout returns the one-shot read timeout as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// StatsLogInterval returns the stats logging period as a duration.
func (c *Config) StatsLogInterval() time.Duration {
	return time.Duration(c.StatsLogIntervalSec) * time.Second
}

// TransformTimeout returns the per-transform execution timeout as a duration.
func (c *Config) TransformTimeout() time.Duration {
	return time.Duration(c.TransformTimeoutMs) * time.Millisecond
}
