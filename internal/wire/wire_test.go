package wire

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestRequest_Bytes(t *testing.T) {
	req := &Request{ID: 7, Op: OpSubscribe, Path: "listings/card-123", OrderBy: "createdAt", Limit: 20}
	data, err := req.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	msg := struct {
		ID      int64  `json:"id"`
		Op      string `json:"op"`
		Path    string `json:"path"`
		OrderBy string `json:"orderBy"`
		Limit   int    `json:"limit"`
	}{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ID != 7 || msg.Op != "subscribe" || msg.Path != "listings/card-123" {
		t.Errorf("round trip mismatch: %+v", msg)
	}
	if msg.OrderBy != "createdAt" || msg.Limit != 20 {
		t.Errorf("query options lost: %+v", msg)
	}
}

func TestParseMessage_SnapshotFrame(t *testing.T) {
	raw := []byte(`{"op":"snapshot","subscription":"sub-1","path":"offers/1","exists":true,"data":{"price":12.5},"updatedAt":1700000000000}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Op != OpSnapshot || msg.Subscription != "sub-1" {
		t.Errorf("frame fields: op=%s sub=%s", msg.Op, msg.Subscription)
	}
	if !msg.Exists || len(msg.Data) == 0 {
		t.Errorf("data fields: exists=%v data=%q", msg.Exists, msg.Data)
	}
}

func TestParseMessage_ErrorFrame(t *testing.T) {
	raw := []byte(`{"op":"error","subscription":"sub-2","error":{"code":14,"message":"unavailable"}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Error == nil || msg.Error.Code != 14 || msg.Error.Error() != "unavailable" {
		t.Errorf("error payload: %+v", msg.Error)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}
