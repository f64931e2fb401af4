package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"docwatch/internal/wire"
)

// ErrNotConnected is returned when a request is issued while the store
// connection is down (including while a reconnect is in progress).
var ErrNotConnected = errors.New("store connection not established")

const (
	defaultMessageTimeout       = 30 * time.Second
	defaultPingInterval         = 30 * time.Second
	defaultControlInterval      = 250 * time.Millisecond
	defaultMaxReconnectInterval = 30 * time.Second
	handshakeTimeout            = 10 * time.Second
	writeTimeout                = 10 * time.Second
	eventBufferSize             = 1024
)

// ClientConfig configures the WebSocket store client.
type ClientConfig struct {
	URL                  string
	MessageTimeout       time.Duration // wait for a request's ack or result
	PingInterval         time.Duration // 0 disables keepalive pings
	ControlInterval      time.Duration // min spacing between subscribe/unsubscribe sends
	MaxReconnectInterval time.Duration // backoff cap for the reconnect loop
}

func (c *ClientConfig) withDefaults() ClientConfig {
	cfg := *c
	if cfg.MessageTimeout == 0 {
		cfg.MessageTimeout = defaultMessageTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ControlInterval == 0 {
		cfg.ControlInterval = defaultControlInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	return cfg
}

// pendingCall tracks an in-flight request. When sub is set, the read loop
// registers the subscription under the server-assigned id before any later
// snapshot frame is processed, so the initial snapshot cannot race the
// registration.
type pendingCall struct {
	ch  chan *wire.Message
	sub *clientSub
}

// clientSub is the client-side record of an open subscription. The key is
// stable across reconnects; the server id changes on every replay.
type clientSub struct {
	key        string
	path       string
	opts       SubscribeOptions
	onSnapshot SnapshotHandler
	onError    ErrorHandler
	serverID   string
}

// Client owns a single WebSocket connection to the document store. It
// multiplexes request/response traffic and snapshot events on one connection,
// reconnects with exponential backoff, and replays open subscriptions after a
// reconnect. Implements Store.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]*pendingCall
	pendingMu sync.Mutex
	reqID     atomic.Int64

	subs     map[string]*clientSub // client key -> sub
	byServer map[string]string     // server subscription id -> client key
	subMu    sync.Mutex

	// Spaces out subscribe/unsubscribe sends so a burst of admissions does
	// not hammer the store's control channel.
	control *rate.Limiter

	eventCh      chan *wire.Message
	reconnecting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a store client. Dial must be called before use.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		logger:   logger.With().Str("component", "store-client").Logger(),
		pending:  make(map[int64]*pendingCall),
		subs:     make(map[string]*clientSub),
		byServer: make(map[string]string),
		control:  rate.NewLimiter(rate.Every(cfg.ControlInterval), 1),
		eventCh:  make(chan *wire.Message, eventBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dial establishes the connection and starts the reader, dispatcher, and
// keepalive goroutines.
func (c *Client) Dial(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)

	c.wg.Add(1)
	go c.dispatchWorker()
	c.wg.Add(1)
	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	c.logger.Info().Str("url", c.cfg.URL).Msg("store connected")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
		return nil
	})
	return conn, nil
}

func (c *Client) readTimeout() time.Duration {
	// Pings extend the deadline; allow two missed intervals before giving up.
	if c.cfg.PingInterval > 0 {
		return 2*c.cfg.PingInterval + c.cfg.MessageTimeout
	}
	return c.cfg.MessageTimeout * 4
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) getConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Subscribe opens a realtime subscription at path. The returned CancelFunc is
// idempotent and detaches the subscription best-effort.
func (c *Client) Subscribe(ctx context.Context, path string, opts SubscribeOptions, onSnapshot SnapshotHandler, onError ErrorHandler) (CancelFunc, error) {
	if err := c.control.Wait(ctx); err != nil {
		return nil, err
	}

	sub := &clientSub{
		key:        uuid.NewString(),
		path:       path,
		opts:       opts,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	req := &wire.Request{
		Op:      wire.OpSubscribe,
		Path:    path,
		OrderBy: opts.OrderByField,
		Limit:   opts.Limit,
	}
	msg, err := c.callSub(ctx, req, sub)
	if err != nil {
		c.removeSub(sub.key)
		return nil, err
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("subscribe %s: %w", path, msg.Error)
	}
	if msg.Subscription == "" {
		return nil, fmt.Errorf("subscribe %s: server ack missing subscription id", path)
	}

	c.logger.Debug().Str("path", path).Str("subscription", msg.Subscription).Msg("subscription opened")

	var once sync.Once
	cancel := func() {
		once.Do(func() { c.detach(sub.key) })
	}
	return cancel, nil
}

// removeSub drops a subscription record without notifying the server.
func (c *Client) removeSub(key string) *clientSub {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	sub, ok := c.subs[key]
	if !ok {
		return nil
	}
	delete(c.subs, key)
	delete(c.byServer, sub.serverID)
	return sub
}

// detach removes the subscription record and tells the server, best-effort.
func (c *Client) detach(key string) {
	sub := c.removeSub(key)
	if sub == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.MessageTimeout)
	defer cancel()
	if err := c.control.Wait(ctx); err != nil {
		return
	}
	req := &wire.Request{Op: wire.OpUnsubscribe, Subscription: sub.serverID}
	if _, err := c.call(ctx, req); err != nil {
		c.logger.Debug().Err(err).Str("path", sub.path).Msg("unsubscribe send failed")
	}
}

// Read fetches a single snapshot at path without opening a subscription.
func (c *Client) Read(ctx context.Context, path string) (*Snapshot, error) {
	msg, err := c.call(ctx, &wire.Request{Op: wire.OpRead, Path: path})
	if err != nil {
		return nil, err
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("read %s: %w", path, msg.Error)
	}
	return c.toSnapshot(msg, path), nil
}

func (c *Client) toSnapshot(msg *wire.Message, path string) *Snapshot {
	if msg.Path != "" {
		path = msg.Path
	}
	updatedAt, err := NormalizeTimestamp(msg.UpdatedAt)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("unparseable snapshot timestamp")
	}
	return &Snapshot{
		Path:      path,
		Exists:    msg.Exists,
		Data:      msg.Data,
		UpdatedAt: updatedAt,
	}
}

// call sends a request and waits for the server frame answering it.
func (c *Client) call(ctx context.Context, req *wire.Request) (*wire.Message, error) {
	return c.callSub(ctx, req, nil)
}

// callSub is call with an optional subscription to register on ack.
func (c *Client) callSub(ctx context.Context, req *wire.Request, sub *clientSub) (*wire.Message, error) {
	req.ID = c.reqID.Add(1)

	ch := make(chan *wire.Message, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = &pendingCall{ch: ch, sub: sub}
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.MessageTimeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		if msg == nil {
			return nil, ErrNotConnected
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("request %d (%s) timed out after %s", req.ID, req.Op, c.cfg.MessageTimeout)
	}
}

func (c *Client) write(req *wire.Request) error {
	conn := c.getConn()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := req.Bytes()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop reads frames until the connection dies, then hands off to the
// reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Msg("store connection lost")
			c.handleDisconnect(conn)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.readTimeout()))

		msg, err := wire.ParseMessage(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("unparseable store frame")
			continue
		}

		if msg.ID != 0 {
			c.pendingMu.Lock()
			pc, ok := c.pending[msg.ID]
			c.pendingMu.Unlock()
			if ok {
				if pc.sub != nil && msg.Error == nil && msg.Subscription != "" {
					c.registerSub(pc.sub, msg.Subscription)
				}
				select {
				case pc.ch <- msg:
				default:
				}
			}
			continue
		}

		select {
		case c.eventCh <- msg:
		default:
			c.logger.Warn().Str("subscription", msg.Subscription).Msg("event buffer full, frame dropped")
		}
	}
}

// registerSub binds a subscription to its server-assigned id, replacing any
// id from before a reconnect.
func (c *Client) registerSub(sub *clientSub, serverID string) {
	c.subMu.Lock()
	if sub.serverID != "" {
		delete(c.byServer, sub.serverID)
	}
	sub.serverID = serverID
	c.subs[sub.key] = sub
	c.byServer[serverID] = sub.key
	c.subMu.Unlock()
}

// dispatchWorker delivers subscription events off the read path so a slow
// handler cannot stall the socket.
func (c *Client) dispatchWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.eventCh:
			c.dispatch(msg)
		}
	}
}

func (c *Client) dispatch(msg *wire.Message) {
	c.subMu.Lock()
	key, ok := c.byServer[msg.Subscription]
	var sub *clientSub
	if ok {
		sub = c.subs[key]
	}
	if msg.Op == wire.OpError && sub != nil {
		// The server killed this subscription; drop the record so a later
		// replay does not resurrect it.
		delete(c.subs, key)
		delete(c.byServer, msg.Subscription)
	}
	c.subMu.Unlock()

	if sub == nil {
		c.logger.Debug().Str("subscription", msg.Subscription).Str("op", string(msg.Op)).Msg("frame for unknown subscription")
		return
	}

	switch msg.Op {
	case wire.OpSnapshot:
		if sub.onSnapshot != nil {
			sub.onSnapshot(c.toSnapshot(msg, sub.path))
		}
	case wire.OpError:
		c.logger.Warn().Str("path", sub.path).Str("subscription", msg.Subscription).Interface("error", msg.Error).Msg("subscription delivery error")
		if sub.onError != nil {
			err := error(msg.Error)
			if msg.Error == nil {
				err = errors.New("subscription terminated by store")
			}
			sub.onError(err)
		}
	}
}

// pingLoop keeps the connection alive while one exists.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			conn := c.getConn()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

// handleDisconnect clears connection state and starts the reconnect loop.
// Only the first caller for a given outage runs it.
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	c.setConn(nil)
	conn.Close()
	c.failPending()

	c.wg.Add(1)
	go c.reconnectLoop()
}

// failPending unblocks every in-flight call with ErrNotConnected.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, pc := range c.pending {
		select {
		case pc.ch <- nil:
		default:
		}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// reconnectLoop re-dials with exponential backoff until the connection is back
// or the client is closed, then replays open subscriptions.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = c.cfg.MaxReconnectInterval

	for {
		select {
		case <-c.ctx.Done():
			c.reconnecting.Store(false)
			return
		default:
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = c.cfg.MaxReconnectInterval
			}
			c.logger.Warn().Err(err).Dur("nextRetry", sleep).Msg("store reconnection failed")
			select {
			case <-c.ctx.Done():
				c.reconnecting.Store(false)
				return
			case <-time.After(sleep):
				continue
			}
		}

		c.setConn(conn)
		c.reconnecting.Store(false)
		c.wg.Add(1)
		go c.readLoop(conn)
		c.logger.Info().Str("url", c.cfg.URL).Msg("store reconnected")

		c.replaySubscriptions()
		return
	}
}

// replaySubscriptions re-opens every retained subscription on the fresh
// connection and re-keys the server id mapping.
func (c *Client) replaySubscriptions() {
	c.subMu.Lock()
	subs := make([]*clientSub, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subMu.Unlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.MessageTimeout)
		if err := c.control.Wait(ctx); err != nil {
			cancel()
			return
		}
		req := &wire.Request{
			Op:      wire.OpSubscribe,
			Path:    sub.path,
			OrderBy: sub.opts.OrderByField,
			Limit:   sub.opts.Limit,
		}
		msg, err := c.callSub(ctx, req, sub)
		cancel()
		if err != nil || msg.Error != nil {
			c.logger.Warn().Err(err).Str("path", sub.path).Msg("subscription replay failed")
			c.removeSub(sub.key)
			if sub.onError != nil {
				if err == nil {
					err = msg.Error
				}
				sub.onError(fmt.Errorf("replay %s: %w", sub.path, err))
			}
			continue
		}
		c.logger.Debug().Str("path", sub.path).Str("subscription", sub.serverID).Msg("subscription replayed")
	}
}

// Close tears down the connection and stops all goroutines.
func (c *Client) Close() {
	c.cancel()
	if conn := c.getConn(); conn != nil {
		conn.Close()
	}
	c.failPending()
	c.wg.Wait()
	c.logger.Info().Msg("store client closed")
}
