// Package postcall finishes a call once its media stream is gone: the call
// record is stored, a completion event is published and the session leaves
// the registry.
package postcall

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/voicedesk/pkg/callstate"
)

type TurnRecord struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Record is the durable summary of one call.
type Record struct {
	ID              string       `json:"id"`
	CallID          string       `json:"call_sid"`
	StreamID        string       `json:"stream_sid,omitempty"`
	CallerNumber    string       `json:"caller_number"`
	CalleeNumber    string       `json:"callee_number"`
	BusinessName    string       `json:"business_name,omitempty"`
	Demo            bool         `json:"demo"`
	Status          string       `json:"status"`
	StartedAt       time.Time    `json:"started_at"`
	AnsweredAt      time.Time    `json:"answered_at,omitempty"`
	EndedAt         time.Time    `json:"ended_at,omitempty"`
	DurationSeconds float64      `json:"duration_seconds"`
	Transcript      string       `json:"transcript"`
	Turns           []TurnRecord `json:"turns"`
	NotifyPhone     string       `json:"notify_phone,omitempty"`
	NotifyEmail     string       `json:"notify_email,omitempty"`
}

// NewRecord snapshots a session.
func NewRecord(s *callstate.Session, defaultPersona string) Record {
	cfg, _ := s.Config()
	history := s.History()
	turns := make([]TurnRecord, 0, len(history))
	for _, t := range history {
		turns = append(turns, TurnRecord{Role: t.Role.String(), Text: t.Text, At: t.At})
	}
	return Record{
		ID:              uuid.NewString(),
		CallID:          s.CallID,
		StreamID:        s.StreamID(),
		CallerNumber:    s.CallerNumber,
		CalleeNumber:    s.CalleeNumber,
		BusinessName:    cfg.BusinessName,
		Demo:            cfg.Demo,
		Status:          s.Status().String(),
		StartedAt:       s.StartedAt(),
		AnsweredAt:      s.AnsweredAt(),
		EndedAt:         s.EndedAt(),
		DurationSeconds: s.Duration().Seconds(),
		Transcript:      s.FormatTranscript(cfg.Persona(defaultPersona)),
		Turns:           turns,
		NotifyPhone:     cfg.NotifyPhone,
		NotifyEmail:     cfg.NotifyEmail,
	}
}

// Recorder persists call records.
type Recorder interface {
	SaveCall(ctx context.Context, rec Record) error
}

// Publisher announces finished calls to downstream consumers.
type Publisher interface {
	PublishCallCompleted(ctx context.Context, rec Record) error
}
