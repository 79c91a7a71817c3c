package mock

import (
	"context"

	"github.com/harunnryd/voicedesk/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	// Echo answers with the last user message instead of ResponseText.
	Echo bool
	Err  error
}

type LLMAdapter struct {
	cfg LLMConfig
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	if a.cfg.Echo {
		for i := len(input.Messages) - 1; i >= 0; i-- {
			if input.Messages[i].Role == "user" {
				return llm.Response{Text: "You said: " + input.Messages[i].Content, FinishReason: "stop"}, nil
			}
		}
	}
	return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)
