package mock

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/voicedesk/pkg/llm"
)

func TestMockSTTHonoursDeadline(t *testing.T) {
	s := NewSTT(STTConfig{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Transcribe(ctx, nil); err == nil {
		t.Fatalf("expected deadline error")
	}
	if s.Calls() != 1 {
		t.Fatalf("expected call counted")
	}
}

func TestMockLLMEcho(t *testing.T) {
	a := NewLLMAdapter(LLMConfig{Echo: true})
	resp, err := a.Generate(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "second"},
	}})
	if err != nil || resp.Text != "You said: second" {
		t.Fatalf("unexpected response %q %v", resp.Text, err)
	}
}

func TestMockTTSLengthFollowsWords(t *testing.T) {
	s := NewTTS(TTSConfig{})
	audio, err := s.Synthesize(context.Background(), "one two three")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	// 3 words * 100ms * 16000 Hz * 2 bytes
	if len(audio.PCM) != 9600 || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio length %d", len(audio.PCM))
	}
}
