// Package flow handles parsing and representation of YAML scenario files.
package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Selector is the typed descriptor used to locate a control.
// Pure data structure - each backend decides how to translate it.
type Selector struct {
	// Identifying attributes
	ID   string `yaml:"id"`   // Resource ID, AutomationId or DOM id
	Desc string `yaml:"desc"` // Accessibility id / content-desc
	Kind string `yaml:"kind"` // Control kind: Button, Edit, Text, ListItem, Hyperlink, ...
	Text string `yaml:"text"` // Regular expression matched against the whole control text

	// Raw locators for backends that support them
	XPath string `yaml:"xpath"`
	CSS   string `yaml:"css"`

	// Index picks the Nth match (0-based) when several controls match
	Index int `yaml:"index"`

	// Or lists alternates tried in order when this selector finds nothing
	Or []Selector `yaml:"or"`
}

// UnmarshalYAML allows Selector to be unmarshaled from a plain string (text).
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Text = node.Value
		return nil
	}

	type plain Selector
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Selector(raw)
	return nil
}

// IsEmpty returns true if no locating attribute is set.
func (s *Selector) IsEmpty() bool {
	return s.ID == "" &&
		s.Desc == "" &&
		s.Kind == "" &&
		s.Text == "" &&
		s.XPath == "" &&
		s.CSS == "" &&
		len(s.Or) == 0
}

// Alternatives returns the selector itself (without alternates) followed by
// each alternate, flattened in try order.
func (s Selector) Alternatives() []Selector {
	head := s
	head.Or = nil
	out := []Selector{head}
	for _, alt := range s.Or {
		out = append(out, alt.Alternatives()...)
	}
	if head.IsEmpty() {
		out = out[1:]
	}
	return out
}

// TextPattern compiles Text as a whole-string regular expression.
// Returns nil when Text is empty.
func (s *Selector) TextPattern() (*regexp.Regexp, error) {
	if s.Text == "" {
		return nil, nil
	}
	re, err := CompileFullMatch(s.Text)
	if err != nil {
		return nil, fmt.Errorf("invalid text pattern %q: %w", s.Text, err)
	}
	return re, nil
}

// MatchText reports whether value satisfies the Text pattern. A pattern that
// does not compile falls back to literal comparison.
func (s *Selector) MatchText(value string) bool {
	if s.Text == "" {
		return true
	}
	re, err := s.TextPattern()
	if err != nil {
		return value == s.Text
	}
	return re.MatchString(value)
}

// Describe returns a human-readable description.
func (s *Selector) Describe() string {
	var parts []string
	if s.Kind != "" {
		parts = append(parts, s.Kind)
	}
	switch {
	case s.ID != "":
		parts = append(parts, "#"+s.ID)
	case s.Desc != "":
		parts = append(parts, "~"+s.Desc)
	case s.XPath != "":
		parts = append(parts, "xpath:"+s.XPath)
	case s.CSS != "":
		parts = append(parts, "css:"+s.CSS)
	}
	if s.Text != "" {
		parts = append(parts, strconv.Quote(s.Text))
	}
	if s.Index > 0 {
		parts = append(parts, "["+strconv.Itoa(s.Index)+"]")
	}
	if len(parts) == 0 && len(s.Or) > 0 {
		return s.Or[0].Describe()
	}
	return strings.Join(parts, " ")
}

// DescribeQuoted returns a quoted description like id="value" or text="value".
func (s *Selector) DescribeQuoted() string {
	switch {
	case s.ID != "":
		return "id=\"" + s.ID + "\""
	case s.Desc != "":
		return "desc=\"" + s.Desc + "\""
	case s.Text != "":
		return "text=\"" + s.Text + "\""
	case s.XPath != "":
		return "xpath=\"" + s.XPath + "\""
	case s.CSS != "":
		return "css=\"" + s.CSS + "\""
	case len(s.Or) > 0:
		return s.Or[0].DescribeQuoted()
	default:
		return s.Describe()
	}
}

// CompileFullMatch compiles pattern anchored at both ends.
func CompileFullMatch(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}
