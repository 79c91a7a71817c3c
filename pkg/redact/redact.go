// Package redact masks caller data before it reaches the logs. It is off
// until SetEnabled(true); the engine switches it from privacy.redact_pii.
package redact

import (
	"regexp"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
)

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails and phone numbers spoken inside a transcript.
func Text(in string) string {
	if !enabled.Load() || in == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[email]")
	return phoneRe.ReplaceAllStringFunc(out, maskDigits)
}

// Number masks a phone number down to its last four digits so calls can
// still be told apart in the logs.
func Number(n string) string {
	if !enabled.Load() || n == "" {
		return n
	}
	return maskDigits(n)
}

func maskDigits(s string) string {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) <= 4 {
		return "***"
	}
	return "***" + string(digits[len(digits)-4:])
}
