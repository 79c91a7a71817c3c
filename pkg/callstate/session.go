package callstate

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Session is the state of one phone call. Identity fields are immutable;
// everything else is guarded internally so the media handler, its pipeline
// goroutine and the webhook handlers can share one Session.
type Session struct {
	CallID       string
	CallerNumber string
	CalleeNumber string

	mu         sync.Mutex
	streamID   string
	config     *BusinessConfig
	history    []Turn
	status     Status
	startedAt  time.Time
	answeredAt time.Time
	endedAt    time.Time
	now        func() time.Time

	speaking         atomic.Bool
	running          atomic.Bool
	pendingInterrupt atomic.Bool
}

func newSession(callID, callee, caller string, now func() time.Time) *Session {
	return &Session{
		CallID:       callID,
		CalleeNumber: callee,
		CallerNumber: caller,
		status:       StatusRinging,
		startedAt:    now(),
		now:          now,
	}
}

// StreamID returns the bound media stream, or "" before binding.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// Config returns the business configuration loaded for this call.
func (s *Session) Config() (BusinessConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return BusinessConfig{}, false
	}
	return *s.config, true
}

// SetConfig attaches the business configuration for the call.
func (s *Session) SetConfig(cfg BusinessConfig) {
	s.mu.Lock()
	s.config = &cfg
	s.mu.Unlock()
}

// AppendTurn adds a turn to the history and returns it.
func (s *Session) AppendTurn(role Role, text string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Turn{Role: role, Text: text, At: s.now()}
	s.history = append(s.history, t)
	return t
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkAnswered moves a ringing call to in-progress and stamps the answer
// time. Calling it again is a no-op.
func (s *Session) MarkAnswered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusInProgress {
		return nil
	}
	if err := s.advanceLocked(StatusInProgress); err != nil {
		return err
	}
	s.answeredAt = s.now()
	return nil
}

// end moves the call to a terminal status. A call that is already terminal
// keeps its first terminal status and end time.
func (s *Session) end(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return
	}
	s.status = status
	s.endedAt = s.now()
}

func (s *Session) advanceLocked(to Status) error {
	if s.status.IsTerminal() || to < s.status {
		return ErrStatusRegression
	}
	s.status = to
	return nil
}

func (s *Session) bind(streamID string) {
	s.mu.Lock()
	s.streamID = streamID
	s.mu.Unlock()
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// AnsweredAt returns when the media stream started, or zero.
func (s *Session) AnsweredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answeredAt
}

// EndedAt returns when the call reached a terminal status, or zero.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Duration is the talk time from answer to end. Calls that were never
// answered, or have not ended, report zero.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answeredAt.IsZero() || s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.answeredAt)
}

// Speaking reports whether agent audio is playing to the caller.
func (s *Session) Speaking() bool { return s.speaking.Load() }

// SetSpeaking records whether agent audio is playing.
func (s *Session) SetSpeaking(v bool) { s.speaking.Store(v) }

// TryBeginRun claims the session's single pipeline slot.
func (s *Session) TryBeginRun() bool { return s.running.CompareAndSwap(false, true) }

// EndRun releases the pipeline slot.
func (s *Session) EndRun() { s.running.Store(false) }

// Running reports whether a pipeline run is in flight.
func (s *Session) Running() bool { return s.running.Load() }

// RequestInterrupt raises the interrupt flag. It only takes effect while the
// agent is speaking or a run is in flight, and reports whether it did.
func (s *Session) RequestInterrupt() bool {
	if !s.speaking.Load() && !s.running.Load() {
		return false
	}
	s.pendingInterrupt.Store(true)
	return true
}

// ConsumeInterrupt clears the interrupt flag and reports whether it was set.
// Exactly one caller observes each raised flag.
func (s *Session) ConsumeInterrupt() bool {
	return s.pendingInterrupt.CompareAndSwap(true, false)
}

// InterruptPending reports the flag without clearing it.
func (s *Session) InterruptPending() bool { return s.pendingInterrupt.Load() }

// FormatTranscript renders the history as "Speaker: text" lines.
func (s *Session) FormatTranscript(persona string) string {
	if persona == "" {
		persona = DefaultPersona
	}
	history := s.History()
	var b strings.Builder
	for i, t := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		speaker := "Customer"
		if t.Role == RoleAssistant {
			speaker = persona
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}
