// Package business resolves the dialled number of a call to the business it
// belongs to.
package business

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/harunnryd/voicedesk/pkg/callstate"
)

var (
	ErrNotFound = errors.New("business number not configured")
	ErrInactive = errors.New("business number inactive")
)

// Directory looks up per-number configuration. Lookup returns ErrNotFound
// when the number is unknown; inactive numbers are returned with Active
// false so callers can tell the two apart.
type Directory interface {
	Lookup(ctx context.Context, number string) (callstate.BusinessConfig, error)
}

// Resolve looks number up and refuses inactive configurations.
func Resolve(ctx context.Context, dir Directory, number string) (callstate.BusinessConfig, error) {
	if dir == nil {
		return callstate.BusinessConfig{}, ErrNotFound
	}
	cfg, err := dir.Lookup(ctx, NormalizeNumber(number))
	if err != nil {
		return callstate.BusinessConfig{}, err
	}
	if !cfg.Active {
		return cfg, ErrInactive
	}
	return cfg, nil
}

// NormalizeNumber strips formatting from a phone number, keeping a leading
// plus sign.
func NormalizeNumber(number string) string {
	number = strings.TrimSpace(number)
	var b strings.Builder
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Entry is one configured number as written in the config file.
type Entry struct {
	Number       string            `mapstructure:"number"`
	BusinessName string            `mapstructure:"business_name"`
	BusinessType string            `mapstructure:"business_type"`
	OwnerName    string            `mapstructure:"owner_name"`
	PersonaName  string            `mapstructure:"persona_name"`
	SystemPrompt string            `mapstructure:"system_prompt"`
	Lexicon      map[string]string `mapstructure:"lexicon"`
	Demo         bool              `mapstructure:"demo"`
	Active       *bool             `mapstructure:"active"`
	NotifyPhone  string            `mapstructure:"notify_phone"`
	NotifyEmail  string            `mapstructure:"notify_email"`
}

// Config converts the entry; numbers are active unless disabled.
func (e Entry) Config() callstate.BusinessConfig {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return callstate.BusinessConfig{
		Number:       NormalizeNumber(e.Number),
		BusinessName: e.BusinessName,
		BusinessType: e.BusinessType,
		OwnerName:    e.OwnerName,
		PersonaName:  e.PersonaName,
		SystemPrompt: e.SystemPrompt,
		Lexicon:      e.Lexicon,
		Demo:         e.Demo,
		Active:       active,
		NotifyPhone:  e.NotifyPhone,
		NotifyEmail:  e.NotifyEmail,
	}
}

// StaticDirectory serves configuration held in memory, typically loaded from
// the config file.
type StaticDirectory struct {
	mu      sync.RWMutex
	numbers map[string]callstate.BusinessConfig
}

func NewStaticDirectory(entries []Entry) *StaticDirectory {
	d := &StaticDirectory{numbers: make(map[string]callstate.BusinessConfig, len(entries))}
	for _, e := range entries {
		d.Put(e.Config())
	}
	return d
}

// Put adds or replaces the configuration for cfg.Number.
func (d *StaticDirectory) Put(cfg callstate.BusinessConfig) {
	cfg.Number = NormalizeNumber(cfg.Number)
	d.mu.Lock()
	d.numbers[cfg.Number] = cfg
	d.mu.Unlock()
}

func (d *StaticDirectory) Lookup(ctx context.Context, number string) (callstate.BusinessConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg, ok := d.numbers[NormalizeNumber(number)]
	if !ok {
		return callstate.BusinessConfig{}, ErrNotFound
	}
	return cfg, nil
}
