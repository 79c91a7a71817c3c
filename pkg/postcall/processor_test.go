package postcall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/metrics"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type stubRecorder struct {
	mu      sync.Mutex
	records []Record
	fails   int
}

func (s *stubRecorder) SaveCall(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("db down")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *stubRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type stubPublisher struct {
	mu   sync.Mutex
	sent []Record
	err  error
}

func (s *stubPublisher) PublishCallCompleted(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, rec)
	return nil
}

func newCall(t *testing.T, reg *callstate.Registry) *callstate.Session {
	t.Helper()
	s, err := reg.Create("CA1", "+15550100001", "+15550109999")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.SetConfig(callstate.BusinessConfig{BusinessName: "Acme Plumbing", PersonaName: "Benny", Active: true})
	_ = reg.BindStream("MZ1", "CA1")
	_ = s.MarkAnswered()
	s.AppendTurn(callstate.RoleAssistant, "Hi, thanks for calling Acme Plumbing!")
	s.AppendTurn(callstate.RoleUser, "My water heater is leaking.")
	return s
}

func TestProcessStoresPublishesAndEvicts(t *testing.T) {
	reg := callstate.NewRegistry()
	newCall(t, reg)
	rec := &stubRecorder{}
	pub := &stubPublisher{}
	obs := metrics.NewMemoryObserver()
	p := NewProcessor(reg, Options{Recorder: rec, Publisher: pub, Observer: obs})

	if err := p.Process(context.Background(), "CA1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.count() != 1 || len(pub.sent) != 1 {
		t.Fatalf("expected one stored and one published record")
	}
	got := rec.records[0]
	if got.Status != "completed" || got.StreamID != "MZ1" || got.BusinessName != "Acme Plumbing" {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Transcript != "Benny: Hi, thanks for calling Acme Plumbing!\nCustomer: My water heater is leaking." {
		t.Fatalf("unexpected transcript %q", got.Transcript)
	}
	if len(got.Turns) != 2 || got.Turns[1].Role != "user" {
		t.Fatalf("unexpected turns %+v", got.Turns)
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Fatalf("expected session evicted")
	}
	if obs.Count(metrics.EventCallEnded) != 1 {
		t.Fatalf("expected call_ended event")
	}
	if err := p.Process(context.Background(), "CA1"); err != nil {
		t.Fatalf("second process should be a no-op, got %v", err)
	}
}

func TestProcessRetriesStoreAndReportsPublishFailure(t *testing.T) {
	reg := callstate.NewRegistry()
	newCall(t, reg)
	rec := &stubRecorder{fails: 1}
	pub := &stubPublisher{err: errors.New("broker gone")}
	p := NewProcessor(reg, Options{
		Recorder:  rec,
		Publisher: pub,
		Retry:     resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond},
	})
	err := p.Process(context.Background(), "CA1")
	if errorsx.Reason(err) != errorsx.ReasonEventPublish {
		t.Fatalf("expected publish failure reason, got %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected store to succeed on retry")
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Fatalf("session must be evicted even when publishing fails")
	}
}

func TestSubmitProcessesInBackground(t *testing.T) {
	reg := callstate.NewRegistry()
	newCall(t, reg)
	rec := &stubRecorder{}
	p := NewProcessor(reg, Options{Recorder: rec})
	p.Start(context.Background())
	p.Submit("CA1")
	p.Close()
	if rec.count() != 1 {
		t.Fatalf("expected queued call processed before Close returns")
	}
	_, _ = reg.Create("CA2", "+1", "+2")
	p.Submit("CA2")
	if _, ok := reg.Get("CA2"); ok {
		t.Fatalf("expected eviction when the processor is closed")
	}
}
