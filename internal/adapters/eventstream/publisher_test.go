package eventstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Inpuzah/stafftools/internal/db"
)

type recordingWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByAccount(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	pub := &Publisher{writer: writer, now: time.Now}

	p := &db.Punishment{ID: 3, AccountID: uuid.New(), AccountName: "Judy", Type: db.Mute, Duration: 15, Reason: "spam"}
	p.Stamp(time.Now())
	if err := pub.NotifyIssued(context.Background(), p); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != p.AccountID.String() {
		t.Fatalf("unexpected key: %s", msg.Key)
	}
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Event != EventIssued || event.Type != "MUTE" || event.ExpiresAt == nil {
		t.Fatalf("unexpected event: %#v", event)
	}

	if err := pub.Stop(context.Background()); err != nil || !writer.closed {
		t.Fatalf("stop should close the writer: %v", err)
	}
}
