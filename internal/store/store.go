package store

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// SubscribeOptions shape the query opened against the store. Limit and
// OrderByField cap the payload requested per snapshot delivery.
type SubscribeOptions struct {
	Limit        int
	OrderByField string
}

// Snapshot is one delivery from the store for a path.
type Snapshot struct {
	Path      string
	Exists    bool
	Data      json.RawMessage
	UpdatedAt time.Time
}

// SnapshotHandler receives snapshot deliveries for an open subscription.
type SnapshotHandler func(snap *Snapshot)

// ErrorHandler receives delivery errors reported by the store for an open
// subscription. After an error the subscription is dead; reopening is the
// caller's responsibility.
type ErrorHandler func(err error)

// CancelFunc detaches a subscription. Safe to call more than once.
type CancelFunc func()

// Store is the document-store boundary: realtime subscriptions plus one-shot
// reads. Implementations own the transport; callers own retry policy.
type Store interface {
	Subscribe(ctx context.Context, path string, opts SubscribeOptions, onSnapshot SnapshotHandler, onError ErrorHandler) (CancelFunc, error)
	Read(ctx context.Context, path string) (*Snapshot, error)
	Close()
}

// Reader is the read-only subset of Store used by batch readers.
type Reader interface {
	Read(ctx context.Context, path string) (*Snapshot, error)
}
