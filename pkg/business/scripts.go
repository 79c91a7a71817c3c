package business

import (
	"errors"
	"strings"

	"github.com/harunnryd/voicedesk/pkg/callstate"
)

// Spoken and TwiML messages for calls that cannot be served.
const (
	NotConfiguredMessage = "Sorry, this number is not configured. Please try again later."
	UnavailableMessage   = "Sorry, this service is temporarily unavailable. Please try again later."
)

// Greeting returns the first thing the agent says on a call.
func Greeting(cfg callstate.BusinessConfig, defaultPersona string) string {
	persona := cfg.Persona(defaultPersona)
	if cfg.Demo {
		return "Hi! This is " + persona + ", a demo of the BuddyHelps voice assistant. " +
			"I'm here to show you how I can help answer calls for your business. " +
			"Go ahead and pretend you're a customer calling with a plumbing issue!"
	}
	name := strings.TrimSpace(cfg.BusinessName)
	if name == "" {
		name = "the business"
	}
	return "Hi, thanks for calling " + name + "! This is " + persona + ". How can I help you today?"
}

// RefusalMessage picks the message for a lookup error from Resolve.
func RefusalMessage(err error) string {
	if errors.Is(err, ErrInactive) {
		return UnavailableMessage
	}
	return NotConfiguredMessage
}
