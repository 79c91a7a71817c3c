// Package lexicon fixes words a transcription engine commonly gets wrong for
// a given business, such as product names or local place names.
package lexicon

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Corrector applies a fixed set of replacements. Build it once per lexicon
// and reuse it for every utterance of a call.
type Corrector struct {
	rules []rule
}

type rule struct {
	re   *regexp.Regexp
	with string
}

// Compile prepares a lexicon of misheard -> correct terms. Longer terms are
// applied first so multi-word phrases win over their single-word parts;
// ties are ordered alphabetically.
func Compile(lexicon map[string]string) *Corrector {
	keys := make([]string, 0, len(lexicon))
	for k := range lexicon {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	c := &Corrector{rules: make([]rule, 0, len(keys))}
	for _, k := range keys {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(strings.TrimSpace(k)))
		c.rules = append(c.rules, rule{re: re, with: lexicon[k]})
	}
	return c
}

// Correct rewrites every whole-word, case-insensitive match. A match counts
// as a whole word when the text on either side of it is not a letter, digit
// or underscore in any script, so "José" and "c++" are matched too.
func (c *Corrector) Correct(text string) string {
	if c == nil || text == "" {
		return text
	}
	for _, r := range c.rules {
		text = r.replace(text)
	}
	return text
}

func (r rule) replace(text string) string {
	var b strings.Builder
	last, pos := 0, 0
	for pos <= len(text) {
		loc := r.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end == start {
			break
		}
		if !isWordRuneBefore(text, start) && !isWordRuneAt(text, end) {
			b.WriteString(text[last:start])
			b.WriteString(r.with)
			last, pos = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isWordRuneBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

func isWordRuneAt(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(r)
}

// Correct is a convenience for one-off corrections.
func Correct(text string, lexicon map[string]string) string {
	if len(lexicon) == 0 {
		return text
	}
	return Compile(lexicon).Correct(text)
}
