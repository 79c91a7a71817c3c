// Package googlespeech transcribes utterances with Google Cloud
// Speech-to-Text. Credentials come from the environment
// (GOOGLE_APPLICATION_CREDENTIALS).
package googlespeech

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/harunnryd/voicedesk/pkg/adapters/stt"
)

type Config struct {
	Language   string
	SampleRate int
	Model      string
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

type Transcriber struct {
	cfg       Config
	recognize recognizeFunc
	close     func() error
}

func New(ctx context.Context, cfg Config) (*Transcriber, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	t := newTranscriber(cfg, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	})
	t.close = c.Close
	return t, nil
}

func newTranscriber(cfg Config, fn recognizeFunc) *Transcriber {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Transcriber{cfg: cfg, recognize: fn}
}

func (t *Transcriber) Name() string { return "google_speech" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := t.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(t.cfg.SampleRate),
			LanguageCode:               t.cfg.Language,
			Model:                      t.cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wav},
		},
	})
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the gRPC connection.
func (t *Transcriber) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

var _ stt.Transcriber = (*Transcriber)(nil)
