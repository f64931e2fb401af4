package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"docwatch/internal/wire"
)

// stubStore is a minimal in-process document store speaking the wire protocol.
type stubStore struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	subSeq   int
	subPaths map[string]string // subscription id -> path
	unsubbed []string
}

func newStubStore() *stubStore {
	return &stubStore{subPaths: make(map[string]string)}
}

func (s *stubStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		switch req.Op {
		case wire.OpSubscribe:
			s.mu.Lock()
			s.subSeq++
			subID := fmt.Sprintf("srv-sub-%d", s.subSeq)
			s.subPaths[subID] = req.Path
			s.mu.Unlock()
			s.send(conn, &wire.Message{ID: req.ID, Op: wire.OpAck, Subscription: subID})
			// Initial snapshot follows the ack, like a live store.
			s.send(conn, &wire.Message{
				Op:           wire.OpSnapshot,
				Subscription: subID,
				Path:         req.Path,
				Exists:       true,
				Data:         json.RawMessage(`{"status":"active"}`),
				UpdatedAt:    json.RawMessage(`1700000000000`),
			})
		case wire.OpUnsubscribe:
			s.mu.Lock()
			s.unsubbed = append(s.unsubbed, req.Subscription)
			s.mu.Unlock()
			s.send(conn, &wire.Message{ID: req.ID, Op: wire.OpAck})
		case wire.OpRead:
			s.send(conn, &wire.Message{
				ID:        req.ID,
				Op:        wire.OpSnapshot,
				Path:      req.Path,
				Exists:    true,
				Data:      json.RawMessage(`{"price":42}`),
				UpdatedAt: json.RawMessage(`"2023-11-14T22:13:20Z"`),
			})
		}
	}
}

func (s *stubStore) send(conn *websocket.Conn, msg *wire.Message) {
	data, _ := json.Marshal(msg)
	conn.WriteMessage(websocket.TextMessage, data)
}

func newTestClient(t *testing.T) (*Client, *stubStore) {
	t.Helper()
	stub := newStubStore()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient(ClientConfig{
		URL:             url,
		MessageTimeout:  5 * time.Second,
		ControlInterval: time.Millisecond,
	}, zerolog.Nop())
	if err := client.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(client.Close)
	return client, stub
}

func TestClient_SubscribeDeliversSnapshots(t *testing.T) {
	client, _ := newTestClient(t)

	snaps := make(chan *Snapshot, 1)
	cancel, err := client.Subscribe(context.Background(), "listings/card-1", SubscribeOptions{Limit: 10}, func(snap *Snapshot) {
		select {
		case snaps <- snap:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	select {
	case snap := <-snaps:
		if snap.Path != "listings/card-1" || !snap.Exists {
			t.Errorf("snapshot = %+v", snap)
		}
		if snap.UpdatedAt.IsZero() {
			t.Error("timestamp not normalized")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestClient_CancelSendsUnsubscribe(t *testing.T) {
	client, stub := newTestClient(t)

	cancel, err := client.Subscribe(context.Background(), "offers/1", SubscribeOptions{}, func(*Snapshot) {}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()
	cancel() // idempotent

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stub.mu.Lock()
		n := len(stub.unsubbed)
		stub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("unsubscribe never reached the server")
}

func TestClient_Read(t *testing.T) {
	client, _ := newTestClient(t)

	snap, err := client.Read(context.Background(), "cards/mewtwo-151")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Path != "cards/mewtwo-151" || !snap.Exists {
		t.Errorf("snapshot = %+v", snap)
	}
	if string(snap.Data) != `{"price":42}` {
		t.Errorf("data = %s", snap.Data)
	}
}

func TestClient_RequestAfterClose(t *testing.T) {
	client, _ := newTestClient(t)
	client.Close()

	if _, err := client.Read(context.Background(), "cards/1"); err == nil {
		t.Error("expected error after Close")
	}
}
