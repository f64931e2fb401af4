// Package cache provides a read-through TTL cache over a session-scoped
// key/value store. It is a perceived-performance cache: stale data is never
// returned, corrupt entries self-heal on read, and the cache knows nothing
// about semantic identity beyond the keys callers construct.
package cache

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// envelope is the stored representation of a cache entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch millis at save time
}

// Result is the outcome of a cache lookup. Expired is also set for corrupt
// entries, which are deleted on read; callers treat both as a miss that
// warrants a fresh fetch.
type Result struct {
	Data    json.RawMessage
	Expired bool
}

// TTLCache caches JSON-serializable values with expiration. Callers must
// encode every distinguishing dimension (user, query, page) into the key;
// there is no dependency tracking or cross-instance invalidation.
type TTLCache struct {
	storage Storage
	ttl     time.Duration
	logger  zerolog.Logger

	now func() time.Time
}

// New creates a TTLCache over the given storage.
func New(storage Storage, ttl time.Duration, logger zerolog.Logger) *TTLCache {
	return &TTLCache{
		storage: storage,
		ttl:     ttl,
		logger:  logger.With().Str("component", "ttl-cache").Logger(),
		now:     time.Now,
	}
}

// Get looks up key. Expired entries return a nil-data Result with Expired
// set; the stale value is never handed out. A value that fails to parse is
// deleted from storage and reported the same way.
func (c *TTLCache) Get(key string) Result {
	raw, ok := c.storage.Get(key)
	if !ok {
		return Result{}
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Timestamp == 0 {
		c.logger.Warn().Str("key", key).Msg("corrupt cache entry, deleting")
		c.storage.Delete(key)
		return Result{Expired: true}
	}

	age := c.now().UnixMilli() - env.Timestamp
	if age > c.ttl.Milliseconds() {
		return Result{Expired: true}
	}
	return Result{Data: env.Data}
}

// Save stores value under key with the current timestamp.
func (c *TTLCache) Save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env := envelope{Data: data, Timestamp: c.now().UnixMilli()}
	encoded, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.storage.Set(key, string(encoded))
	return nil
}

// Clear removes key from the cache.
func (c *TTLCache) Clear(key string) {
	c.storage.Delete(key)
}
