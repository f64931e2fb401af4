// Package listener manages realtime document-store subscriptions on behalf of
// the whole application: one shared connection budget with priority-based
// admission, pause/resume on visibility transitions, and backoff-timed
// reconnection after delivery errors.
//
// The manager favors silent degradation over failure: a rejected or broken
// subscription surfaces as an empty id or simply no further deliveries, plus a
// log line. Callers must treat missing data as a state to render, not an
// error to crash on.
package listener

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docwatch/internal/backoff"
	"docwatch/internal/store"
	"docwatch/internal/visibility"
)

// DefaultMaxConnections is the shared budget when the config does not set one.
const DefaultMaxConnections = 10

const defaultReadTimeout = 15 * time.Second

// TransformFunc rewrites snapshot data before callback delivery. Returning
// the input unchanged is the identity transform.
type TransformFunc func(path string, data json.RawMessage) json.RawMessage

// Config tunes the manager.
type Config struct {
	// MaxConnections is the process-wide cap on concurrent live
	// subscriptions. All components compete for this one pool.
	MaxConnections int
	Backoff        backoff.Policy
	// DedupSize bounds the number of paths the snapshot deduplicator tracks;
	// 0 disables dedup.
	DedupSize int
	// ReadTimeout bounds one-shot reads.
	ReadTimeout time.Duration
}

func (c Config) maxConnections() int {
	if c.MaxConnections <= 0 {
		return DefaultMaxConnections
	}
	return c.MaxConnections
}

func (c Config) readTimeout() time.Duration {
	if c.ReadTimeout <= 0 {
		return defaultReadTimeout
	}
	return c.ReadTimeout
}

// Manager is the single source of truth for subscription lifecycle. Each
// descriptor id is in exactly one of {active, pending, absent} at any time.
type Manager struct {
	mu sync.Mutex

	store  store.Store
	cfg    Config
	policy backoff.Policy
	logger zerolog.Logger

	active  map[string]*activeSub
	pending map[string]*Descriptor

	paused bool
	// attempts is the shared reconnect counter used by both error-driven
	// retries and resume scheduling. Reset on any successful delivery.
	attempts     int
	totalCreated int
	totalRemoved int
	closed       bool

	dedup     *Deduplicator
	transform TransformFunc

	// afterFunc schedules retry and resume timers; a test seam.
	afterFunc func(time.Duration, func()) *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager over the given store.
func NewManager(st store.Store, cfg Config, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     st,
		cfg:       cfg,
		policy:    cfg.Backoff,
		logger:    logger.With().Str("component", "listener-manager").Logger(),
		active:    make(map[string]*activeSub),
		pending:   make(map[string]*Descriptor),
		afterFunc: time.AfterFunc,
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.DedupSize > 0 {
		dedup, err := NewDeduplicator(cfg.DedupSize)
		if err != nil {
			m.logger.Warn().Err(err).Msg("dedup disabled")
		} else {
			m.dedup = dedup
		}
	}
	return m
}

// SetTransform installs a snapshot transform applied before every callback
// delivery. Must be called before the first Subscribe.
func (m *Manager) SetTransform(fn TransformFunc) {
	m.mu.Lock()
	m.transform = fn
	m.mu.Unlock()
}

// Subscribe requests a subscription at path and returns its id. An empty id
// means the request was rejected (budget exhausted, low priority) and no data
// will ever arrive for it.
//
// While paused, the descriptor is held pending and opened on resume. At the
// budget: low priority is rejected, medium is queued until the next resume,
// high opens anyway and may softly exceed the budget.
func (m *Manager) Subscribe(path string, opts Options, callback Callback) string {
	desc := &Descriptor{
		ID:       uuid.NewString(),
		Path:     path,
		Options:  opts,
		Callback: callback,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn().Str("path", path).Msg("subscribe after close ignored")
		return ""
	}

	if opts.Once {
		m.totalCreated++
		m.mu.Unlock()
		go m.readOnce(desc)
		return desc.ID
	}

	if m.paused {
		m.pending[desc.ID] = desc
		m.totalCreated++
		m.mu.Unlock()
		m.logger.Debug().Str("path", path).Str("id", desc.ID).Msg("paused, subscription held pending")
		return desc.ID
	}

	if len(m.active) >= m.cfg.maxConnections() {
		switch opts.priority() {
		case PriorityLow:
			m.mu.Unlock()
			m.logger.Warn().Str("path", path).Int("max", m.cfg.maxConnections()).Msg("connection budget exhausted, low-priority subscription rejected")
			return ""
		case PriorityMedium:
			m.pending[desc.ID] = desc
			m.totalCreated++
			m.mu.Unlock()
			m.logger.Info().Str("path", path).Str("id", desc.ID).Msg("connection budget exhausted, subscription queued")
			return desc.ID
		default:
			m.logger.Debug().Str("path", path).Msg("connection budget exhausted, high-priority subscription admitted over budget")
		}
	}

	m.totalCreated++
	m.reserve(desc)
	m.mu.Unlock()

	m.open(desc)
	return desc.ID
}

// reserve claims a budget slot for desc. Caller holds m.mu.
func (m *Manager) reserve(desc *Descriptor) {
	m.active[desc.ID] = &activeSub{desc: desc, openedAt: time.Now()}
}

// open establishes the live store subscription for an already-reserved
// descriptor. On failure the slot is released and a retry is scheduled under
// the shared backoff counter.
func (m *Manager) open(desc *Descriptor) {
	id := desc.ID
	cancel, err := m.store.Subscribe(m.ctx, desc.Path,
		store.SubscribeOptions{Limit: desc.Options.Limit, OrderByField: desc.Options.OrderByField},
		func(snap *store.Snapshot) { m.deliver(id, snap) },
		func(err error) { m.handleConnectionError(id, err) },
	)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", desc.Path).Str("id", id).Msg("subscription open failed")
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
		m.scheduleRetry(desc)
		return
	}

	m.mu.Lock()
	sub, ok := m.active[id]
	if !ok {
		// Unsubscribed (or paused) while the open was in flight.
		m.mu.Unlock()
		cancel()
		return
	}
	sub.cancel = cancel
	m.mu.Unlock()
}

// readOnce performs a one-shot read. It counts toward creation stats but
// never holds a budget slot.
func (m *Manager) readOnce(desc *Descriptor) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.readTimeout())
	defer cancel()

	snap, err := m.store.Read(ctx, desc.Path)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", desc.Path).Msg("one-shot read failed")
		return
	}
	// An explicit fetch: delivered even if it matches the last subscription
	// snapshot, and never recorded against the subscription stream.
	m.invoke(desc, snap)
}

// deliver routes a snapshot for an active subscription.
func (m *Manager) deliver(id string, snap *store.Snapshot) {
	m.mu.Lock()
	sub, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	desc := sub.desc
	m.mu.Unlock()

	m.deliverTo(desc, snap)
}

// deliverTo drops back-to-back duplicate payloads, then invokes the callback.
func (m *Manager) deliverTo(desc *Descriptor, snap *store.Snapshot) {
	if m.dedup != nil && len(snap.Data) > 0 && m.dedup.IsDuplicate(desc.Path, snap.Data) {
		return
	}
	m.invoke(desc, snap)
}

// invoke applies the transform and calls the subscriber.
func (m *Manager) invoke(desc *Descriptor, snap *store.Snapshot) {
	if m.transform != nil && len(snap.Data) > 0 {
		transformed := *snap
		transformed.Data = m.transform(desc.Path, snap.Data)
		snap = &transformed
	}
	if desc.Callback == nil {
		return
	}
	start := time.Now()
	desc.Callback(snap)
	if d := time.Since(start); d > time.Second {
		m.logger.Warn().Str("path", desc.Path).Dur("duration", d).Msg("callback slow")
	}
}

// handleConnectionError tears down the failed subscription and schedules a
// fresh open under the shared backoff counter.
func (m *Manager) handleConnectionError(id string, err error) {
	m.mu.Lock()
	sub, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, id)
	cancel := sub.cancel
	desc := sub.desc
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Warn().Err(err).Str("path", desc.Path).Str("id", id).Msg("subscription delivery error")
	m.scheduleRetry(desc)
}

// scheduleRetry re-subscribes desc after a backoff delay, unless the attempt
// ceiling is exhausted. While waiting, the descriptor is pending; an
// unsubscribe during the wait cancels the retry.
func (m *Manager) scheduleRetry(desc *Descriptor) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	maxAttempts := m.policy.Attempts()
	if attempt > maxAttempts {
		m.attempts = 0
		m.mu.Unlock()
		m.logger.Error().Str("path", desc.Path).Str("id", desc.ID).Int("attempts", maxAttempts).Msg("reconnect attempts exhausted, giving up on subscription")
		return
	}
	m.pending[desc.ID] = desc
	delay := m.policy.Delay(attempt - 1)
	m.mu.Unlock()

	m.logger.Info().Str("path", desc.Path).Str("id", desc.ID).Int("attempt", attempt).Dur("delay", delay).Msg("re-subscription scheduled")
	m.afterFunc(delay, func() {
		m.mu.Lock()
		if _, ok := m.pending[desc.ID]; !ok {
			// Removed while waiting.
			m.mu.Unlock()
			return
		}
		delete(m.pending, desc.ID)
		m.mu.Unlock()
		m.reopen(desc)
	})
}

// reopen re-admits a descriptor that previously held (or was promised) a
// slot. Admission rules apply again: over budget, medium goes back to
// pending and low is dropped.
func (m *Manager) reopen(desc *Descriptor) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.paused {
		m.pending[desc.ID] = desc
		m.mu.Unlock()
		return
	}
	if _, ok := m.active[desc.ID]; ok {
		m.mu.Unlock()
		return
	}
	if len(m.active) >= m.cfg.maxConnections() {
		switch desc.Options.priority() {
		case PriorityLow:
			m.mu.Unlock()
			m.logger.Warn().Str("path", desc.Path).Str("id", desc.ID).Msg("budget exhausted on reopen, low-priority subscription dropped")
			return
		case PriorityMedium:
			m.pending[desc.ID] = desc
			m.mu.Unlock()
			return
		}
	}
	m.reserve(desc)
	m.mu.Unlock()

	m.open(desc)
}

// Unsubscribe closes the subscription with the given id. Idempotent: unknown
// ids are a logged no-op.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	if sub, ok := m.active[id]; ok {
		delete(m.active, id)
		m.totalRemoved++
		cancel := sub.cancel
		path := sub.desc.Path
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.logger.Debug().Str("path", path).Str("id", id).Msg("unsubscribed")
		return
	}
	if _, ok := m.pending[id]; ok {
		delete(m.pending, id)
		m.totalRemoved++
		m.mu.Unlock()
		m.logger.Debug().Str("id", id).Msg("pending subscription removed")
		return
	}
	m.mu.Unlock()
	m.logger.Debug().Str("id", id).Msg("unsubscribe for unknown id ignored")
}

// UnsubscribeAll closes every subscription and clears the registry.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	cancels := make([]store.CancelFunc, 0, len(m.active))
	for _, sub := range m.active {
		if sub.cancel != nil {
			cancels = append(cancels, sub.cancel)
		}
	}
	removed := len(m.active) + len(m.pending)
	m.active = make(map[string]*activeSub)
	m.pending = make(map[string]*Descriptor)
	m.totalRemoved += removed
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.logger.Info().Int("removed", removed).Msg("all subscriptions removed")
}

// Pause closes every live subscription but retains descriptors as pending.
// Idempotent. Data delivered to the store between pause and resume is lost;
// resumed subscriptions start from a fresh snapshot.
func (m *Manager) Pause() {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = true
	cancels := make([]store.CancelFunc, 0, len(m.active))
	for id, sub := range m.active {
		if sub.cancel != nil {
			cancels = append(cancels, sub.cancel)
		}
		m.pending[id] = sub.desc
		delete(m.active, id)
	}
	paused := len(cancels)
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.logger.Info().Int("subscriptions", paused).Msg("paused, live subscriptions closed")
}

// Resume schedules every pending descriptor for re-subscription, each after
// a backoff delay derived from the shared attempt counter. The pending set is
// cleared optimistically; connections open asynchronously. Idempotent.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = false
	descs := make([]*Descriptor, 0, len(m.pending))
	for _, desc := range m.pending {
		descs = append(descs, desc)
	}
	m.pending = make(map[string]*Descriptor)
	delay := m.policy.Delay(m.attempts)
	m.mu.Unlock()

	m.logger.Info().Int("subscriptions", len(descs)).Dur("delay", delay).Msg("resuming subscriptions")
	for _, desc := range descs {
		d := desc
		m.afterFunc(delay, func() { m.reopen(d) })
	}
}

// Bind consumes visibility transitions from src until the manager closes.
func (m *Manager) Bind(src visibility.Source) {
	go func() {
		events := src.Events()
		for {
			select {
			case <-m.ctx.Done():
				return
			case state, ok := <-events:
				if !ok {
					return
				}
				m.logger.Debug().Stringer("visibility", state).Msg("visibility change")
				if state == visibility.Hidden {
					m.Pause()
				} else {
					m.Resume()
				}
			}
		}
	}()
}

// Stats returns a point-in-time view of the registry counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ActiveConnections:  len(m.active),
		MaxConnections:     m.cfg.maxConnections(),
		PendingConnections: len(m.pending),
		TotalCreated:       m.totalCreated,
		TotalRemoved:       m.totalRemoved,
		ReconnectAttempts:  m.attempts,
		Paused:             m.paused,
	}
}

// Close removes all subscriptions and stops the manager.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.UnsubscribeAll()
	m.logger.Info().Msg("listener manager closed")
}
