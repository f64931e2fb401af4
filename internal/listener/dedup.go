package listener

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator suppresses back-to-back redelivery of an unchanged snapshot
// payload for a path. The store can emit the same snapshot more than once
// around reconnects and replays; callers should not re-render for those.
//
// Only the last-delivered payload per path is remembered. A document that
// changes and later reverts to an earlier state is a real update and is
// delivered.
type Deduplicator struct {
	cache *lru.Cache[string, string] // path -> last-delivered fingerprint
}

// NewDeduplicator creates a Deduplicator tracking up to size paths.
func NewDeduplicator(size int) (*Deduplicator, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Deduplicator{cache: cache}, nil
}

// IsDuplicate reports whether data is identical to the previous delivery for
// path, and records it as the last delivery if not.
func (d *Deduplicator) IsDuplicate(path string, data json.RawMessage) bool {
	fp := fingerprint(data)
	if last, ok := d.cache.Get(path); ok && last == fp {
		return true
	}
	d.cache.Add(path, fp)
	return false
}

// Clear forgets all recorded deliveries.
func (d *Deduplicator) Clear() {
	d.cache.Purge()
}

// Len returns the number of tracked paths.
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}

func fingerprint(data json.RawMessage) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
