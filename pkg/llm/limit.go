package llm

import (
	"strings"
	"unicode/utf8"
)

// ReplyLimit keeps spoken replies short. Zero fields disable the matching
// limit.
type ReplyLimit struct {
	MaxSentences int
	MaxChars     int
}

// Apply cuts text after MaxSentences sentence terminators, then to MaxChars
// runes, preferring to cut on a word boundary.
func (l ReplyLimit) Apply(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	if l.MaxSentences > 0 {
		text = firstSentences(text, l.MaxSentences)
	}
	if l.MaxChars > 0 && utf8.RuneCountInString(text) > l.MaxChars {
		runes := []rune(text)
		cut := string(runes[:l.MaxChars])
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		text = strings.TrimSpace(cut)
	}
	return text
}

func firstSentences(text string, n int) string {
	count := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next < len(text) && text[next] != ' ' && text[next] != '\n' {
			continue
		}
		count++
		if count >= n {
			return strings.TrimSpace(text[:next])
		}
	}
	return text
}
