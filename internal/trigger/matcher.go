// Package trigger detects merge trigger markers in free text.
package trigger

import (
	"fmt"
	"regexp"
)

// Matcher matches a merge trigger pattern against text.
// The pattern only matches when it occupies a complete line by itself,
// surrounding whitespace on the same line prevents a match.
type Matcher struct {
	re *regexp.Regexp
}

// New compiles pattern into a line-anchored Matcher.
// An invalid pattern is a configuration error, New is expected to be called
// once on startup.
func New(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(`(?m)^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compiling trigger pattern %q failed: %w", pattern, err)
	}

	return &Matcher{re: re}, nil
}

// Matches returns true if the trigger pattern matches a complete line of
// text. Empty text never matches.
func (m *Matcher) Matches(text string) bool {
	if text == "" {
		return false
	}

	return m.re.MatchString(text)
}

func (m *Matcher) String() string {
	return m.re.String()
}
