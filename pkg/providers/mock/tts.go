package mock

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/harunnryd/voicedesk/pkg/adapters/tts"
)

type TTSConfig struct {
	SampleRate int
	// PerWord is the length of audio produced for each word.
	PerWord time.Duration
	Err     error
}

// Synthesizer produces a quiet 440 Hz tone whose length follows the word
// count of the text.
type Synthesizer struct {
	cfg TTSConfig
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.PerWord <= 0 {
		cfg.PerWord = 100 * time.Millisecond
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if err := ctx.Err(); err != nil {
		return tts.Audio{}, err
	}
	if s.cfg.Err != nil {
		return tts.Audio{}, s.cfg.Err
	}
	words := len(strings.Fields(text))
	n := int(time.Duration(words) * s.cfg.PerWord * time.Duration(s.cfg.SampleRate) / time.Second)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(2000 * math.Sin(2*math.Pi*440*float64(i)/float64(s.cfg.SampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return tts.Audio{PCM: pcm, SampleRate: s.cfg.SampleRate}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
