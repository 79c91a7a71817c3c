package llm

import (
	"context"
	"time"

	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type GeneratorOptions struct {
	MaxTokens      int
	Temperature    float64
	MaxHistory     int
	DefaultPersona string
	Retry          RetryConfig
	Breaker        *resilience.CircuitBreaker
	Limit          ReplyLimit
}

// Generator produces the agent's next reply for a call.
type Generator struct {
	adapter LLMAdapter
	opts    GeneratorOptions
}

func NewGenerator(adapter LLMAdapter, opts GeneratorOptions) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 40
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &Generator{adapter: adapter, opts: opts}
}

func (g *Generator) Name() string { return g.adapter.Name() }

// Generate returns the reply for history under cfg, trimmed and cut to
// the configured limit.
func (g *Generator) Generate(ctx context.Context, history []callstate.Turn, cfg callstate.BusinessConfig) (string, error) {
	if !g.opts.Breaker.Allow() {
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: g.adapter.Name(), Message: "circuit open"}, errorsx.ReasonLLMCircuitOpen)
	}
	req := Request{
		System:      SystemPrompt(cfg, g.opts.DefaultPersona),
		Messages:    Messages(history, g.opts.MaxHistory),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}
	resp, err := Retry(ctx, g.opts.Retry, func(ctx context.Context) (Response, error) {
		return g.adapter.Generate(ctx, req)
	})
	if err != nil {
		g.opts.Breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			return "", errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
		}
		return "", errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	g.opts.Breaker.OnSuccess()
	return g.opts.Limit.Apply(resp.Text), nil
}
