package deepgram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/voicedesk/pkg/adapters/stt"
	"github.com/harunnryd/voicedesk/pkg/logging"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
}

type fromStreamFunc func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (*restinterfaces.PreRecordedResponse, error)

// Transcriber sends each utterance to Deepgram's pre-recorded endpoint.
type Transcriber struct {
	cfg        Config
	fromStream fromStreamFunc
	logger     *slog.Logger
}

func New(cfg Config) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram: missing api key")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	dg := api.New(client.NewREST(cfg.APIKey, &interfaces.ClientOptions{}))
	return &Transcriber{
		cfg:        cfg,
		fromStream: dg.FromStream,
		logger:     logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}, nil
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	res, err := t.fromStream(ctx, bytes.NewReader(wav), &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "429") {
			return "", resilience.RateLimitError{Provider: "deepgram", Message: err.Error()}
		}
		return "", err
	}
	text := transcriptFrom(res)
	t.logger.Debug("deepgram_transcribed", "bytes", len(wav), "chars", len(text))
	return text, nil
}

func transcriptFrom(res *restinterfaces.PreRecordedResponse) string {
	if res == nil || res.Results == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Results.Channels))
	for _, ch := range res.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(ch.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

var _ stt.Transcriber = (*Transcriber)(nil)
