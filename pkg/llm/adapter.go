package llm

import "context"

// Message is one chat message in provider-neutral form.
type Message struct {
	Role    string
	Content string
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// LLMAdapter is a chat completion backend.
type LLMAdapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}
