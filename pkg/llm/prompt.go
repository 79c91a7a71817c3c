package llm

import (
	"strings"

	"github.com/harunnryd/voicedesk/pkg/callstate"
)

// DefaultPromptTemplate is used when a business has no system prompt of its
// own. Placeholders: {persona_name}, {business_name}, {owner_name}.
const DefaultPromptTemplate = `You are {persona_name}, answering phones for {business_name}.

WHO YOU ARE:
- Friendly, warm, genuinely helpful
- You work with {owner_name} and know how they operate
- You're part of the team, not a robot or answering service

YOUR GOAL:
Have a real conversation. Listen. Respond naturally. Make the caller feel like they reached someone who cares. {owner_name} will call them back.

HOW YOU TALK:
- Respond to what they actually say
- If they sound stressed, acknowledge it
- Keep responses conversational, not scripted
- Never give quotes or prices, that's {owner_name}'s job

Keep responses brief (1-3 sentences). This is a phone conversation.`

// SystemPrompt renders the business's prompt, or the default template, with
// the call's names filled in.
func SystemPrompt(cfg callstate.BusinessConfig, defaultPersona string) string {
	tpl := strings.TrimSpace(cfg.SystemPrompt)
	if tpl == "" {
		tpl = DefaultPromptTemplate
	}
	business := strings.TrimSpace(cfg.BusinessName)
	if business == "" {
		business = "the business"
	}
	owner := strings.TrimSpace(cfg.OwnerName)
	if owner == "" {
		owner = "the owner"
	}
	r := strings.NewReplacer(
		"{persona_name}", cfg.Persona(defaultPersona),
		"{business_name}", business,
		"{owner_name}", owner,
	)
	return r.Replace(tpl)
}

// Messages converts call history to chat messages, keeping the most recent
// max turns when max > 0.
func Messages(history []callstate.Turn, max int) []Message {
	if max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}
	out := make([]Message, 0, len(history))
	for _, t := range history {
		out = append(out, Message{Role: t.Role.String(), Content: t.Text})
	}
	return out
}
