package callstate

import (
	"errors"
	"sync"
	"testing"
)

func TestSessionStatusIsMonotonic(t *testing.T) {
	r, _ := newTestRegistry()
	s, _ := r.Create("CA1", "+1", "+2")
	if err := s.MarkAnswered(); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if s.Status() != StatusInProgress || s.AnsweredAt().IsZero() {
		t.Fatalf("expected in-progress with answer time")
	}
	_, _ = r.MarkFailed("CA1")
	if err := s.MarkAnswered(); !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("expected ErrStatusRegression, got %v", err)
	}
	if s.Status() != StatusFailed {
		t.Fatalf("expected failed, got %s", s.Status())
	}
}

func TestSessionInterruptOnlyWhileBusy(t *testing.T) {
	r, _ := newTestRegistry()
	s, _ := r.Create("CA1", "+1", "+2")
	if s.RequestInterrupt() {
		t.Fatalf("interrupt must not be raised while idle")
	}
	s.SetSpeaking(true)
	if !s.RequestInterrupt() {
		t.Fatalf("expected interrupt while speaking")
	}
	s.SetSpeaking(false)

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ConsumeInterrupt() {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if consumed != 1 {
		t.Fatalf("expected exactly one consumer, got %d", consumed)
	}
	if s.InterruptPending() {
		t.Fatalf("expected flag cleared")
	}
}

func TestSessionRunSlot(t *testing.T) {
	r, _ := newTestRegistry()
	s, _ := r.Create("CA1", "+1", "+2")
	if !s.TryBeginRun() {
		t.Fatalf("expected first run to start")
	}
	if s.TryBeginRun() {
		t.Fatalf("expected second run to be refused")
	}
	if !s.RequestInterrupt() {
		t.Fatalf("expected interrupt while a run is in flight")
	}
	s.EndRun()
	if !s.TryBeginRun() {
		t.Fatalf("expected slot free after EndRun")
	}
}

func TestSessionFormatTranscript(t *testing.T) {
	r, _ := newTestRegistry()
	s, _ := r.Create("CA1", "+1", "+2")
	s.AppendTurn(RoleAssistant, "Hi, this is Benny.")
	s.AppendTurn(RoleUser, "My sink is leaking.")
	want := "Benny: Hi, this is Benny.\nCustomer: My sink is leaking."
	if got := s.FormatTranscript(""); got != want {
		t.Fatalf("unexpected transcript %q", got)
	}
	h := s.History()
	h[0].Text = "mutated"
	if s.History()[0].Text == "mutated" {
		t.Fatalf("history must be returned as a copy")
	}
}

func TestBusinessConfigPersona(t *testing.T) {
	if got := (BusinessConfig{}).Persona(""); got != DefaultPersona {
		t.Fatalf("expected default persona, got %q", got)
	}
	if got := (BusinessConfig{}).Persona("Ava"); got != "Ava" {
		t.Fatalf("expected fallback persona, got %q", got)
	}
	if got := (BusinessConfig{PersonaName: "Max"}).Persona("Ava"); got != "Max" {
		t.Fatalf("expected configured persona, got %q", got)
	}
}
