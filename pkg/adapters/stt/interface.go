package stt

import "context"

// Transcriber defines the contract for any batch STT vendor implementation.
// One instance serves one utterance at a time.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts a complete WAV utterance to text.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Factory builds the transcriber for the worker at index.
type Factory func(index int) (Transcriber, error)

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SampleRate int
	Language   string
}
