package patterns

import (
	"regexp"
	"strings"
)

// Match is a half-open byte range [Start, End) inside artifact content.
type Match struct {
	Start int
	End   int
}

// Matcher finds every occurrence of a condition in raw content. Matchers
// are pure: the same content always yields the same matches in the same
// order.
type Matcher interface {
	Match(content string) []Match
	Describe() string
}

// RegexMatcher matches a case-insensitive, multi-line regular expression.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern with (?im) semantics.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

// MustRegex panics on an invalid pattern; only for the built-in table.
func MustRegex(pattern string) *RegexMatcher {
	m, err := NewRegexMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns every non-overlapping occurrence of the pattern.
func (m *RegexMatcher) Match(content string) []Match {
	locs := m.re.FindAllStringIndex(content, -1)
	out := make([]Match, 0, len(locs))
	for _, loc := range locs {
		out = append(out, Match{Start: loc[0], End: loc[1]})
	}
	return out
}

// Describe returns the pattern without its flag prefix.
func (m *RegexMatcher) Describe() string {
	return "pattern " + strings.TrimPrefix(m.re.String(), "(?im)")
}

// FuncMatcher adapts a structural check written in Go.
type FuncMatcher struct {
	Name string
	Fn   func(content string) []Match
}

// Match runs the check against content.
func (m FuncMatcher) Match(content string) []Match {
	return m.Fn(content)
}

// Describe names the check.
func (m FuncMatcher) Describe() string {
	return "check " + m.Name
}

// LineAt returns the 1-indexed line of offset: one plus the number of
// newlines strictly before it.
func LineAt(content string, offset int) int {
	if offset > len(content) {
		offset = len(content)
	}
	if offset < 0 {
		offset = 0
	}
	return strings.Count(content[:offset], "\n") + 1
}

// OffsetOfLine is the inverse of LineAt for the first byte of a line.
func OffsetOfLine(content string, line int) int {
	if line <= 1 {
		return 0
	}
	seen := 1
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			seen++
			if seen == line {
				return i + 1
			}
		}
	}
	return len(content)
}

// Snippet returns the match with up to 20 bytes of context on each side.
func Snippet(content string, m Match) string {
	start := max(0, m.Start-20)
	end := min(len(content), m.End+20)
	return strings.TrimSpace(strings.ToValidUTF8(content[start:end], ""))
}
