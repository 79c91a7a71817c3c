package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voicedesk/pkg/adapters/tts"
	"github.com/harunnryd/voicedesk/pkg/logging"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io/v1"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	BaseURL      string
}

// ElevenLabsTTS renders one utterance per websocket session on the
// stream-input endpoint and collects the PCM it returns.
type ElevenLabsTTS struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config) *ElevenLabsTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_" + strconv.Itoa(cfg.SampleRate)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &ElevenLabsTTS{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *ElevenLabsTTS) Name() string { return "elevenlabs_tts" }

type streamMessage struct {
	Audio       string `json:"audio"`
	AudioBase64 string `json:"audio_base_64"`
	IsFinal     bool   `json:"isFinal"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

func (s *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return tts.Audio{}, errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{SampleRate: s.cfg.SampleRate}, nil
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return tts.Audio{}, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return tts.Audio{}, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, payload := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(payload); err != nil {
			return tts.Audio{}, s.ctxErr(ctx, err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return tts.Audio{}, s.ctxErr(ctx, err)
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("tts_unexpected_message", "bytes", len(data))
			continue
		}
		if msg.Error != "" {
			return tts.Audio{}, fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		audio := msg.Audio
		if audio == "" {
			audio = msg.AudioBase64
		}
		if audio != "" {
			raw, err := base64.StdEncoding.DecodeString(audio)
			if err != nil {
				return tts.Audio{}, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, raw...)
		}
		if msg.IsFinal {
			break
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.logger.Debug("tts_synthesized", "chars", len(text), "bytes", len(pcm))
	return tts.Audio{PCM: pcm, SampleRate: s.cfg.SampleRate}, nil
}

func (s *ElevenLabsTTS) buildURL() string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "3")
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/text-to-speech/" + s.cfg.VoiceID + "/stream-input?" + q.Encode()
}

func (s *ElevenLabsTTS) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

var _ tts.Synthesizer = (*ElevenLabsTTS)(nil)
