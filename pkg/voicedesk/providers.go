package voicedesk

import (
	"context"
	"strings"

	"github.com/harunnryd/voicedesk/pkg/adapters/stt"
	"github.com/harunnryd/voicedesk/pkg/adapters/tts"
	"github.com/harunnryd/voicedesk/pkg/audio"
	"github.com/harunnryd/voicedesk/pkg/configutil"
	"github.com/harunnryd/voicedesk/pkg/llm"
	"github.com/harunnryd/voicedesk/pkg/providers/deepgram"
	"github.com/harunnryd/voicedesk/pkg/providers/elevenlabs"
	"github.com/harunnryd/voicedesk/pkg/providers/gemini"
	"github.com/harunnryd/voicedesk/pkg/providers/googlespeech"
	"github.com/harunnryd/voicedesk/pkg/providers/mock"
	"github.com/harunnryd/voicedesk/pkg/providers/openai"
)

type deepgramSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type googleSpeechSettings struct {
	Language string `mapstructure:"language"`
	Model    string `mapstructure:"model"`
}

type mockSTTSettings struct {
	Transcript string `mapstructure:"transcript"`
}

type elevenlabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRate   int    `mapstructure:"sample_rate"`
	BaseURL      string `mapstructure:"base_url"`
}

type mockTTSSettings struct {
	SampleRate int `mapstructure:"sample_rate"`
}

type openAISettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type geminiSettings struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type mockLLMSettings struct {
	ResponseText string `mapstructure:"response_text"`
	Echo         *bool  `mapstructure:"echo"`
}

// RegisterDefaultProviders registers every vendor this module ships.
func RegisterDefaultProviders(reg *ProviderRegistry) {
	reg.RegisterSTT("deepgram", func(ctx context.Context, cfg Config) (stt.Factory, error) {
		var settings deepgramSettings
		if err := decodeVendor("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language"},
		}, &settings); err != nil {
			return nil, err
		}
		return func(int) (stt.Transcriber, error) {
			t, err := deepgram.New(deepgram.Config{
				APIKey:   settings.APIKey,
				Model:    settings.Model,
				Language: settings.Language,
			})
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	})

	reg.RegisterSTT("googlespeech", func(ctx context.Context, cfg Config) (stt.Factory, error) {
		var settings googleSpeechSettings
		if err := decodeVendor("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: []string{"language", "model"},
		}, &settings); err != nil {
			return nil, err
		}
		return func(int) (stt.Transcriber, error) {
			t, err := googlespeech.New(ctx, googlespeech.Config{
				Language:   settings.Language,
				Model:      settings.Model,
				SampleRate: audio.ModelRate,
			})
			if err != nil {
				return nil, err
			}
			return t, nil
		}, nil
	})

	reg.RegisterSTT("mock", func(ctx context.Context, cfg Config) (stt.Factory, error) {
		var settings mockSTTSettings
		if err := decodeVendor("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: []string{"transcript"},
		}, &settings); err != nil {
			return nil, err
		}
		return func(int) (stt.Transcriber, error) {
			return mock.NewSTT(mock.STTConfig{Transcript: settings.Transcript}), nil
		}, nil
	})

	reg.RegisterTTS("elevenlabs", func(ctx context.Context, cfg Config) (tts.Synthesizer, error) {
		var settings elevenlabsSettings
		if err := decodeVendor("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "sample_rate", "base_url"},
		}, &settings); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       settings.APIKey,
			VoiceID:      settings.VoiceID,
			ModelID:      settings.ModelID,
			OutputFormat: settings.OutputFormat,
			SampleRate:   settings.SampleRate,
			BaseURL:      settings.BaseURL,
		}), nil
	})

	reg.RegisterTTS("mock", func(ctx context.Context, cfg Config) (tts.Synthesizer, error) {
		var settings mockTTSSettings
		if err := decodeVendor("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Optional: []string{"sample_rate"},
		}, &settings); err != nil {
			return nil, err
		}
		return mock.NewTTS(mock.TTSConfig{SampleRate: settings.SampleRate}), nil
	})

	reg.RegisterLLM("openai", func(ctx context.Context, cfg Config) (llm.LLMAdapter, error) {
		var settings openAISettings
		if err := decodeVendor("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}, &settings); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		return adapter, nil
	})

	reg.RegisterLLM("gemini", func(ctx context.Context, cfg Config) (llm.LLMAdapter, error) {
		var settings geminiSettings
		if err := decodeVendor("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model"},
		}, &settings); err != nil {
			return nil, err
		}
		adapter, err := gemini.NewAdapter(ctx, settings.APIKey, settings.Model)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	})

	reg.RegisterLLM("mock", func(ctx context.Context, cfg Config) (llm.LLMAdapter, error) {
		var settings mockLLMSettings
		if err := decodeVendor("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Optional: []string{"response_text", "echo"},
		}, &settings); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: settings.ResponseText,
			Echo:         configutil.BoolValue(settings.Echo, strings.TrimSpace(settings.ResponseText) == ""),
		}), nil
	})
}

func decodeVendor(path string, settings map[string]any, schema configutil.Schema, out any) error {
	if err := configutil.ValidateSettings(path, settings, schema); err != nil {
		return err
	}
	return configutil.DecodeSettings(settings, out)
}
