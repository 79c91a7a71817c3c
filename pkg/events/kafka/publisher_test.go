package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/harunnryd/voicedesk/pkg/postcall"
)

type stubWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (s *stubWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestDisabledPublisherIsLogOnly(t *testing.T) {
	p := New(Config{Enabled: true}, nil)
	if p.Enabled() {
		t.Fatalf("expected disabled without brokers")
	}
	if err := p.PublishCallCompleted(context.Background(), postcall.Record{CallID: "CA1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEnabledPublisherWritesKeyedMessage(t *testing.T) {
	w := &stubWriter{}
	p := &Publisher{writer: w, topic: "calls", enabled: true, logger: New(Config{}, nil).logger}
	rec := postcall.Record{CallID: "CA9", Status: "completed", Transcript: "Customer: hi"}
	if err := p.PublishCallCompleted(context.Background(), rec); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "CA9" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var got postcall.Record
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Transcript != rec.Transcript {
		t.Fatalf("unexpected payload %+v", got)
	}
	if string(msg.Headers[0].Value) != EventCallCompleted {
		t.Fatalf("unexpected header %+v", msg.Headers)
	}
	_ = p.Close()
	if !w.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestPublishReturnsWriterError(t *testing.T) {
	w := &stubWriter{err: errors.New("leader not available")}
	p := &Publisher{writer: w, topic: "calls", enabled: true, logger: New(Config{}, nil).logger}
	if err := p.PublishCallCompleted(context.Background(), postcall.Record{CallID: "CA1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewAppliesDialTimeout(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, 10 * time.Second},
		{2 * time.Second, 2 * time.Second},
	}
	for _, tc := range cases {
		p := New(Config{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, DialTimeout: tc.in}, nil)
		w, ok := p.writer.(*kafkago.Writer)
		if !ok {
			t.Fatalf("expected kafka writer, got %T", p.writer)
		}
		tr, ok := w.Transport.(*kafkago.Transport)
		if !ok {
			t.Fatalf("expected kafka transport, got %T", w.Transport)
		}
		if tr.DialTimeout != tc.want {
			t.Fatalf("expected dial timeout %v, got %v", tc.want, tr.DialTimeout)
		}
		_ = p.Close()
	}
}
