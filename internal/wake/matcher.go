// Package wake matches transcribed speech against the phrases that
// bring a held conversation back to life.
package wake

import (
	"regexp"
	"strings"
)

// A word character for boundary purposes: letters, digits, underscore,
// and the apostrophe so "i'm" is one word and "back" does not match
// inside "back's".
const wordChars = `\p{L}\p{N}_'`

// An apostrophe with no letter on its outer side is a quote mark, not
// part of a word, so "'back'" still matches "back".
const (
	leftBoundary  = `(?:^|[^` + wordChars + `]|(?:^|[^\p{L}\p{N}_])')`
	rightBoundary = `(?:$|[^` + wordChars + `]|'(?:$|[^\p{L}\p{N}_]))`
)

// Matcher is an immutable, compiled wake phrase set. It is safe for
// concurrent use and never changes after [Compile].
type Matcher struct {
	phrases  []string
	patterns []*regexp.Regexp
}

// Compile builds a Matcher from the configured phrases. Blank phrases
// are skipped; whitespace inside a phrase matches any run of
// whitespace in the transcript. Matching is case-insensitive and
// whole-word: "hi" does not match inside "hill".
func Compile(phrases []string) *Matcher {
	m := &Matcher{}
	for _, p := range phrases {
		p = normalize(p)
		words := strings.Fields(p)
		if len(words) == 0 {
			continue
		}
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		expr := `(?i)` + leftBoundary + strings.Join(quoted, `\s+`) + rightBoundary
		m.phrases = append(m.phrases, strings.Join(words, " "))
		m.patterns = append(m.patterns, regexp.MustCompile(expr))
	}
	return m
}

// Matches reports whether text contains any wake phrase as whole
// words. It stops at the first match.
func (m *Matcher) Matches(text string) bool {
	_, ok := m.Match(text)
	return ok
}

// Match returns the first wake phrase found in text.
func (m *Matcher) Match(text string) (string, bool) {
	if m == nil || text == "" {
		return "", false
	}
	text = normalize(text)
	for i, re := range m.patterns {
		if re.MatchString(text) {
			return m.phrases[i], true
		}
	}
	return "", false
}

// Phrases returns a copy of the compiled phrase list.
func (m *Matcher) Phrases() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.phrases...)
}

// normalize folds typographic apostrophes that speech-to-text engines
// emit into ASCII so "I’m back" and "I'm back" compare equal.
func normalize(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'").Replace(strings.TrimSpace(s))
}
