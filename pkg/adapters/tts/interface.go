package tts

import "context"

// Audio is synthesized speech as little-endian PCM16 mono.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders text to audio.
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SampleRate int
}
