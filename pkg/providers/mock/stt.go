package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harunnryd/voicedesk/pkg/adapters/stt"
)

type STTConfig struct {
	Transcript string
	Delay      time.Duration
	Err        error
}

// Transcriber returns a fixed transcript for every utterance.
type Transcriber struct {
	cfg   STTConfig
	calls atomic.Int64
}

func NewSTT(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (s *Transcriber) Name() string { return "mock_stt" }

func (s *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	s.calls.Add(1)
	if s.cfg.Delay > 0 {
		t := time.NewTimer(s.cfg.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if s.cfg.Err != nil {
		return "", s.cfg.Err
	}
	return s.cfg.Transcript, nil
}

// Calls reports how many utterances were transcribed.
func (s *Transcriber) Calls() int { return int(s.calls.Load()) }

var _ stt.Transcriber = (*Transcriber)(nil)
