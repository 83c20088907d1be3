// Package otp extracts one-time passcodes from message text and hands them
// to the application waiting for them.
package otp

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Length bounds of a passcode digit run.
const (
	MinDigits = 4
	MaxDigits = 8
)

// Code is an extracted passcode. It is single use: the first Take wins and
// every copy of the Code sees it spent afterwards.
type Code struct {
	value string
	spent *atomic.Bool
}

// NewCode wraps a known passcode value.
func NewCode(value string) Code {
	return Code{value: value, spent: new(atomic.Bool)}
}

// IsZero reports whether c holds no code.
func (c Code) IsZero() bool { return c.value == "" || c.spent == nil }

// Value returns the code without consuming it.
func (c Code) Value() string { return c.value }

// String returns the code value.
func (c Code) String() string { return c.value }

// Take consumes the code. It returns false once the code has been taken or
// discarded.
func (c Code) Take() (string, bool) {
	if c.IsZero() || !c.spent.CompareAndSwap(false, true) {
		return "", false
	}
	return c.value, true
}

// Discard voids the code without using it.
func (c Code) Discard() {
	if c.spent != nil {
		c.spent.Store(true)
	}
}

// Spent reports whether the code was taken or discarded.
func (c Code) Spent() bool {
	return c.spent != nil && c.spent.Load()
}

// Extract returns the first run of MinDigits to MaxDigits ASCII digits in
// text that stands on word boundaries. A run touching a letter or '_' is not
// a code; longer or shorter runs are skipped, never truncated.
func Extract(text string) (Code, bool) {
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && isDigit(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n := i - start
			bounded := (start == 0 || !isWordChar(text[start-1])) && (i == len(text) || !isWordChar(text[i]))
			if bounded && n >= MinDigits && n <= MaxDigits {
				return NewCode(text[start:i]), true
			}
			start = -1
		}
	}
	return Code{}, false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isWordChar(b byte) bool {
	return isDigit(b) || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Extractor finds a code with a custom pattern. A nil Pattern uses Extract.
type Extractor struct {
	Pattern *regexp.Regexp
}

// NewExtractor compiles pattern. The code is the first capture group, or
// the whole match when the pattern has none. An empty pattern yields the
// default digit-run extractor.
func NewExtractor(pattern string) (*Extractor, error) {
	if pattern == "" {
		return &Extractor{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid otp pattern %q: %w", pattern, err)
	}
	if re.NumSubexp() > 1 {
		return nil, fmt.Errorf("otp pattern %q has %d capture groups, want at most 1", pattern, re.NumSubexp())
	}
	return &Extractor{Pattern: re}, nil
}

// Extract returns the first code in text.
func (e *Extractor) Extract(text string) (Code, bool) {
	if e == nil || e.Pattern == nil {
		return Extract(text)
	}
	m := e.Pattern.FindStringSubmatch(text)
	if m == nil {
		return Code{}, false
	}
	v := m[0]
	if len(m) > 1 {
		v = m[1]
	}
	if v == "" {
		return Code{}, false
	}
	return NewCode(v), true
}

var linkPattern = regexp.MustCompile(`https://[^\s"'<>]+`)

// ExtractLink returns the first https:// URL in text, without trailing
// sentence punctuation.
func ExtractLink(text string) (string, bool) {
	link := linkPattern.FindString(text)
	link = strings.TrimRight(link, ".,;:!?)]")
	return link, link != ""
}
