package voicedesk

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/voicedesk/pkg/adapters/stt"
	"github.com/harunnryd/voicedesk/pkg/adapters/tts"
	"github.com/harunnryd/voicedesk/pkg/llm"
)

// STTFactoryBuilder returns the factory the transcription pool uses to
// build one engine per worker.
type STTFactoryBuilder func(ctx context.Context, cfg Config) (stt.Factory, error)
type TTSBuilder func(ctx context.Context, cfg Config) (tts.Synthesizer, error)
type LLMBuilder func(ctx context.Context, cfg Config) (llm.LLMAdapter, error)

// ProviderRegistry maps vendor names from the config file to builders.
type ProviderRegistry struct {
	stt map[string]STTFactoryBuilder
	tts map[string]TTSBuilder
	llm map[string]LLMBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactoryBuilder),
		tts: make(map[string]TTSBuilder),
		llm: make(map[string]LLMBuilder),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, builder STTFactoryBuilder) {
	r.stt[providerKey(name)] = builder
}

func (r *ProviderRegistry) RegisterTTS(name string, builder TTSBuilder) {
	r.tts[providerKey(name)] = builder
}

func (r *ProviderRegistry) RegisterLLM(name string, builder LLMBuilder) {
	r.llm[providerKey(name)] = builder
}

func (r *ProviderRegistry) BuildSTTFactory(ctx context.Context, cfg Config) (stt.Factory, error) {
	fn := r.stt[providerKey(cfg.Vendors.STT.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Vendors.STT.Provider)
	}
	return fn(ctx, cfg)
}

func (r *ProviderRegistry) BuildTTS(ctx context.Context, cfg Config) (tts.Synthesizer, error) {
	fn := r.tts[providerKey(cfg.Vendors.TTS.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", cfg.Vendors.TTS.Provider)
	}
	return fn(ctx, cfg)
}

func (r *ProviderRegistry) BuildLLM(ctx context.Context, cfg Config) (llm.LLMAdapter, error) {
	fn := r.llm[providerKey(cfg.Vendors.LLM.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", cfg.Vendors.LLM.Provider)
	}
	return fn(ctx, cfg)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
