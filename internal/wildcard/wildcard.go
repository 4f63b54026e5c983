// Package wildcard compiles ignore patterns into path matchers.
//
// Pattern syntax: '?' matches exactly one character, '*' matches any run of
// characters (path separators included) and every other character matches
// itself. Matching is case-sensitive and anchored at both ends.
package wildcard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// Matcher reports whether a path matches a compiled pattern.
type Matcher interface {
	Match(path string) bool
}

type matcher struct {
	pattern string
	g       glob.Glob
	// minLen is the number of runes any match needs: one per '?' and one
	// per literal rune.
	minLen int
}

func (m *matcher) Match(path string) bool {
	if utf8.RuneCountInString(path) < m.minLen {
		return false
	}
	return m.g.Match(path)
}

func (m *matcher) String() string {
	return m.pattern
}

// Compile translates pattern into a Matcher.
func Compile(pattern string) (Matcher, error) {
	// Everything other than '*' and '?' is quoted so glob class and
	// alternation syntax is taken literally. No separators are passed to
	// the glob compiler, which lets '*' and '?' cross directory boundaries.
	var b strings.Builder
	literal := 0
	flush := func(i int) {
		if i > literal {
			b.WriteString(glob.QuoteMeta(pattern[literal:i]))
		}
	}
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*', '?':
			flush(i)
			b.WriteByte(pattern[i])
			literal = i + 1
		}
	}
	flush(len(pattern))

	g, err := glob.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid wildcard pattern %q: %w", pattern, err)
	}
	minLen := utf8.RuneCountInString(pattern) - strings.Count(pattern, "*")
	return &matcher{pattern: pattern, g: g, minLen: minLen}, nil
}

// MatchAny reports whether any matcher matches path.
func MatchAny(matchers []Matcher, path string) bool {
	for _, m := range matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}
