package wire

import (
	json "github.com/goccy/go-json"
)

// Op identifies a frame type on the store connection.
type Op string

// Client-originated operations.
const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpRead        Op = "read"
)

// Server-originated operations.
const (
	OpAck      Op = "ack"
	OpSnapshot Op = "snapshot"
	OpError    Op = "error"
)

// Request is a client frame sent to the document store.
// ID correlates the server's ack or read result back to the caller.
type Request struct {
	ID           int64  `json:"id"`
	Op           Op     `json:"op"`
	Path         string `json:"path,omitempty"`
	Subscription string `json:"subscription,omitempty"`
	OrderBy      string `json:"orderBy,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// Message is a server frame. Frames with a non-zero ID answer a Request;
// snapshot and subscription-error frames carry a Subscription instead.
type Message struct {
	ID           int64           `json:"id,omitempty"`
	Op           Op              `json:"op"`
	Subscription string          `json:"subscription,omitempty"`
	Path         string          `json:"path,omitempty"`
	Exists       bool            `json:"exists,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	UpdatedAt    json.RawMessage `json:"updatedAt,omitempty"`
	Error        *Error          `json:"error,omitempty"`
}

// Error is the error payload of an "error" frame.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Bytes returns the request as JSON bytes.
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// ParseMessage parses a server frame.
func ParseMessage(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
