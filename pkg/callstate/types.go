// Package callstate holds per-call conversation state and the registry that
// indexes live calls by call and stream identifier.
package callstate

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDuplicateCall    = errors.New("call already registered")
	ErrUnknownCall      = errors.New("call not found")
	ErrStatusRegression = errors.New("call status cannot move backwards")
)

// Status is the lifecycle position of a call.
type Status int

const (
	StatusRinging Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRinging:
		return "ringing"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Role identifies who spoke a turn.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

func (r Role) String() string {
	if r == RoleAssistant {
		return "assistant"
	}
	return "user"
}

// Turn is one entry of the conversation history.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// DefaultPersona is the agent name used when a business does not set one.
const DefaultPersona = "Benny"

// BusinessConfig is the per-number configuration that drives a call.
type BusinessConfig struct {
	Number       string
	BusinessName string
	BusinessType string
	OwnerName    string
	PersonaName  string
	SystemPrompt string
	Lexicon      map[string]string
	Demo         bool
	Active       bool
	NotifyPhone  string
	NotifyEmail  string
}

// Persona returns the configured agent name, or fallback, or DefaultPersona.
func (c BusinessConfig) Persona(fallback string) string {
	if name := strings.TrimSpace(c.PersonaName); name != "" {
		return name
	}
	if name := strings.TrimSpace(fallback); name != "" {
		return name
	}
	return DefaultPersona
}
