package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/resilience"
)

type stubAdapter struct {
	last  Request
	calls int
	errs  []error
	text  string
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	s.last = req
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Response{}, err
	}
	return Response{Text: s.text}, nil
}

func noSleep(time.Duration) {}

func TestGeneratorBuildsPromptAndHistory(t *testing.T) {
	adapter := &stubAdapter{text: "  Sure, I can help.  "}
	g := NewGenerator(adapter, GeneratorOptions{})
	history := []callstate.Turn{
		{Role: callstate.RoleAssistant, Text: "Hi, thanks for calling Acme Plumbing!"},
		{Role: callstate.RoleUser, Text: "My sink is leaking."},
	}
	cfg := callstate.BusinessConfig{BusinessName: "Acme Plumbing", OwnerName: "Dana"}
	reply, err := g.Generate(context.Background(), history, cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "Sure, I can help." {
		t.Fatalf("expected trimmed reply, got %q", reply)
	}
	if !strings.Contains(adapter.last.System, "answering phones for Acme Plumbing") {
		t.Fatalf("expected business name in system prompt")
	}
	if !strings.Contains(adapter.last.System, "You are Benny") {
		t.Fatalf("expected default persona in system prompt")
	}
	if len(adapter.last.Messages) != 2 || adapter.last.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", adapter.last.Messages)
	}
	if adapter.last.MaxTokens != 256 {
		t.Fatalf("expected default max tokens, got %d", adapter.last.MaxTokens)
	}
}

func TestSystemPromptOverride(t *testing.T) {
	cfg := callstate.BusinessConfig{SystemPrompt: "You are {persona_name} for {business_name}.", PersonaName: "Max"}
	if got := SystemPrompt(cfg, ""); got != "You are Max for the business." {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestMessagesKeepsMostRecent(t *testing.T) {
	history := []callstate.Turn{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	msgs := Messages(history, 2)
	if len(msgs) != 2 || msgs[0].Content != "b" {
		t.Fatalf("expected last two turns, got %+v", msgs)
	}
}

func TestGeneratorRetriesTransientErrors(t *testing.T) {
	adapter := &stubAdapter{text: "ok", errs: []error{errors.New("502")}}
	g := NewGenerator(adapter, GeneratorOptions{Retry: RetryConfig{MaxAttempts: 2, Sleep: noSleep}})
	if _, err := g.Generate(context.Background(), nil, callstate.BusinessConfig{}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if adapter.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", adapter.calls)
	}
}

func TestGeneratorOpensBreakerOnRateLimits(t *testing.T) {
	rl := resilience.RateLimitError{Provider: "stub"}
	adapter := &stubAdapter{errs: []error{rl, rl}}
	g := NewGenerator(adapter, GeneratorOptions{
		Retry:   RetryConfig{MaxAttempts: 3, Sleep: noSleep},
		Breaker: resilience.NewCircuitBreaker(2, time.Minute),
	})
	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), nil, callstate.BusinessConfig{})
		if errorsx.Reason(err) != errorsx.ReasonLLMRateLimit {
			t.Fatalf("expected rate limit reason, got %v", err)
		}
	}
	if adapter.calls != 2 {
		t.Fatalf("rate limits must not be retried, got %d calls", adapter.calls)
	}
	_, err := g.Generate(context.Background(), nil, callstate.BusinessConfig{})
	if errorsx.Reason(err) != errorsx.ReasonLLMCircuitOpen {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if adapter.calls != 2 {
		t.Fatalf("expected breaker to short-circuit the adapter")
	}
}
