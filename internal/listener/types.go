package listener

import (
	"time"

	"docwatch/internal/store"
)

// Priority decides admission when the connection budget is exhausted.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Callback receives snapshot deliveries for a subscription.
type Callback func(snap *store.Snapshot)

// Options control a subscription request.
type Options struct {
	// Limit and OrderByField shape the query to cap payload size.
	Limit        int
	OrderByField string
	// Once performs a single read instead of an ongoing subscription.
	Once bool
	// Priority defaults to medium when unset or unknown.
	Priority Priority
}

func (o Options) priority() Priority {
	if !o.Priority.Valid() {
		return PriorityMedium
	}
	return o.Priority
}

// Descriptor is the manager-owned record of a subscription request. It lives
// from Subscribe until explicit removal, retry exhaustion, or teardown, and
// is at any moment either active, pending, or absent.
type Descriptor struct {
	ID       string
	Path     string
	Options  Options
	Callback Callback
}

// activeSub pairs a descriptor with its live store connection.
type activeSub struct {
	desc     *Descriptor
	cancel   store.CancelFunc
	openedAt time.Time
}

// Stats is a read-only view over the manager's counters, recomputed from
// registry state on each call.
type Stats struct {
	ActiveConnections  int
	MaxConnections     int
	PendingConnections int
	TotalCreated       int
	TotalRemoved       int
	ReconnectAttempts  int
	Paused             bool
}
