// Package gemini generates replies with Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/harunnryd/voicedesk/pkg/llm"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

type Adapter struct {
	model    string
	generate generateFunc
}

func NewAdapter(ctx context.Context, apiKey, model string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{model: model, generate: client.Models.GenerateContent}, nil
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) Generate(ctx context.Context, input llm.Request) (llm.Response, error) {
	contents := make([]*genai.Content, 0, len(input.Messages))
	for _, m := range input.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(input.Temperature)),
	}
	if input.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(input.MaxTokens)
	}
	if input.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(input.System, genai.RoleUser)
	}
	resp, err := a.generate(ctx, a.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return llm.Response{}, resilience.RateLimitError{Provider: "gemini", Message: apiErr.Message}
		}
		return llm.Response{}, err
	}
	out := llm.Response{Text: strings.TrimSpace(resp.Text())}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

var _ llm.LLMAdapter = (*Adapter)(nil)
