package voicedesk

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/configutil"
	"github.com/harunnryd/voicedesk/pkg/events/kafka"
	"github.com/harunnryd/voicedesk/pkg/sttpool"
	"github.com/harunnryd/voicedesk/pkg/transports/twilio"
	"github.com/harunnryd/voicedesk/pkg/turn"
)

type Config struct {
	Environment       string           `mapstructure:"environment"`
	LogLevel          string           `mapstructure:"log_level"`
	LogFormat         string           `mapstructure:"log_format"`
	ShutdownTimeoutMS int              `mapstructure:"shutdown_timeout_ms"`
	Transports        TransportsConfig `mapstructure:"transports"`
	Vendors           VendorsConfig    `mapstructure:"vendors"`
	Turn              TurnConfig       `mapstructure:"turn"`
	Pool              PoolConfig       `mapstructure:"pool"`
	Pipeline          PipelineConfig   `mapstructure:"pipeline"`
	Agent             AgentConfig      `mapstructure:"agent"`
	Directory         DirectoryConfig  `mapstructure:"directory"`
	Storage           StorageConfig    `mapstructure:"storage"`
	Events            EventsConfig     `mapstructure:"events"`
	PostCall          PostCallConfig   `mapstructure:"postcall"`
	Metrics           MetricsConfig    `mapstructure:"metrics"`
	Privacy           PrivacyConfig    `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type TurnConfig struct {
	SilenceRMSThreshold float64 `mapstructure:"silence_rms_threshold"`
	MinSilenceMS        int     `mapstructure:"min_silence_ms"`
	MinUtteranceMS      int     `mapstructure:"min_utterance_ms"`
}

type PoolConfig struct {
	Workers          int `mapstructure:"workers"`
	AcquireTimeoutMS int `mapstructure:"acquire_timeout_ms"`
}

type PipelineConfig struct {
	MinTranscriptChars int `mapstructure:"min_transcript_chars"`
	OutboundChunkBytes int `mapstructure:"outbound_chunk_bytes"`
	RejectLingerMS     int `mapstructure:"reject_linger_ms"`
}

type AgentConfig struct {
	DefaultPersona    string  `mapstructure:"default_persona"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxHistory        int     `mapstructure:"max_history"`
	MaxReplySentences int     `mapstructure:"max_reply_sentences"`
	MaxReplyChars     int     `mapstructure:"max_reply_chars"`
}

type DirectoryConfig struct {
	Provider string `mapstructure:"provider"`
	// Entries hold business copy (prompts, names, lexicons) that may contain
	// a literal "$", so env expansion skips them.
	Numbers []business.Entry `mapstructure:"numbers" expand:"-"`
}

type StorageConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

type EventsConfig struct {
	Kafka kafka.Config `mapstructure:"kafka"`
}

type PostCallConfig struct {
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
	TimeoutMS      int `mapstructure:"timeout_ms"`
	QueueSize      int `mapstructure:"queue_size"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
	// FrameSampleRate thins per-frame detector events before they reach
	// the log observer.
	FrameSampleRate float64 `mapstructure:"frame_sample_rate"`
	// TimelineDir enables per-call JSONL traces when set.
	TimelineDir string `mapstructure:"timeline_dir"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("shutdown_timeout_ms", 30000)
	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("turn.silence_rms_threshold", 500)
	v.SetDefault("turn.min_silence_ms", 700)
	v.SetDefault("turn.min_utterance_ms", 300)
	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.acquire_timeout_ms", 5000)
	v.SetDefault("pipeline.min_transcript_chars", 2)
	v.SetDefault("pipeline.outbound_chunk_bytes", 160)
	v.SetDefault("pipeline.reject_linger_ms", 8000)
	v.SetDefault("agent.default_persona", "Benny")
	v.SetDefault("agent.max_tokens", 256)
	v.SetDefault("agent.temperature", 0.7)
	v.SetDefault("agent.max_history", 40)
	v.SetDefault("agent.max_reply_sentences", 3)
	v.SetDefault("agent.max_reply_chars", 420)
	v.SetDefault("directory.provider", "static")
	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.topic", "voicedesk.calls")
	v.SetDefault("postcall.retries", 2)
	v.SetDefault("postcall.retry_backoff_ms", 500)
	v.SetDefault("postcall.timeout_ms", 15000)
	v.SetDefault("postcall.queue_size", 256)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "voicedesk")
	v.SetDefault("metrics.frame_sample_rate", 0.01)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if !strings.EqualFold(strings.TrimSpace(c.Transports.Provider), "twilio") {
		return fmt.Errorf("transports.provider %q is not supported", c.Transports.Provider)
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Directory.Provider)) {
	case "static":
		if len(c.Directory.Numbers) == 0 {
			return fmt.Errorf("directory.numbers must list at least one number")
		}
	case "postgres":
		if err := configutil.RequireString(c.Storage.DatabaseURL, "storage.database_url"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("directory.provider %q is not supported", c.Directory.Provider)
	}
	for i, n := range c.Directory.Numbers {
		if business.NormalizeNumber(n.Number) == "" {
			return fmt.Errorf("directory.numbers[%d].number is required", i)
		}
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when kafka is enabled")
	}
	if c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must not be negative")
	}
	return nil
}

// TurnDetector returns the detector settings.
func (c Config) TurnDetector() turn.Config {
	return turn.Config{
		SilenceThreshold: c.Turn.SilenceRMSThreshold,
		MinSilence:       configutil.Millis(c.Turn.MinSilenceMS, 700*time.Millisecond),
		MinUtterance:     configutil.Millis(c.Turn.MinUtteranceMS, 300*time.Millisecond),
	}
}

func (c Config) PoolConfig() sttpool.Config {
	return sttpool.Config{
		Workers:        c.Pool.Workers,
		AcquireTimeout: configutil.Millis(c.Pool.AcquireTimeoutMS, 5*time.Second),
	}
}

func (c Config) MediaPipeline() twilio.PipelineConfig {
	return twilio.PipelineConfig{
		MinTranscriptChars: c.Pipeline.MinTranscriptChars,
		OutboundChunkBytes: c.Pipeline.OutboundChunkBytes,
		RejectLinger:       configutil.Millis(c.Pipeline.RejectLingerMS, 8*time.Second),
		DefaultPersona:     c.Agent.DefaultPersona,
	}
}

// TwilioConfig decodes transports.settings.
func (c Config) TwilioConfig() (twilio.Config, error) {
	if err := configutil.ValidateSettings("transports.settings", c.Transports.Settings, configutil.Schema{
		Optional: []string{
			"server_addr", "public_url", "account_sid", "auth_token", "voice_path", "ws_path",
			"status_callback_path", "allow_any_origin", "allowed_origins", "end_call_on_reject",
		},
	}); err != nil {
		return twilio.Config{}, err
	}
	var out twilio.Config
	if err := configutil.DecodeSettings(c.Transports.Settings, &out); err != nil {
		return twilio.Config{}, err
	}
	return out, nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = configutil.ExpandEnv(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = configutil.ExpandEnv(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = configutil.ExpandEnv(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = configutil.ExpandEnv(cfg.Transports.Settings)
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).Tag.Get("expand") == "-" {
				continue
			}
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(configutil.ExpandVars(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := configutil.ExpandVars(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
