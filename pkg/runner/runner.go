package runner

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dimiro1/banner"
)

// State is where the process is in its lifecycle. It only moves forward.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("runner: invalid state transition")

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer lets live calls finish before the process exits.
type Drainer interface {
	Drain(ctx context.Context) error
}

// DrainerFunc adapts a function to Drainer.
type DrainerFunc func(ctx context.Context) error

func (f DrainerFunc) Drain(ctx context.Context) error { return f(ctx) }

// Version is stamped at build time with -ldflags.
var Version = "dev"

// PrintBanner writes the startup banner to w.
func PrintBanner(w io.Writer) {
	tpl := "{{ .Title \"VOICEDESK\" \"\" 0 }}\nphone agent " + Version + " | go {{ .GoVersion }}\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
