package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/jsengine"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{2,}$`)

// ScriptEngine holds scenario variables and evaluates ${...} expressions.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
	dir       string // Directory of the scenario file, for relative script paths
}

// NewScriptEngine creates a new script engine.
func NewScriptEngine() *ScriptEngine {
	return &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
}

// SetDir sets the directory relative script paths resolve against.
func (se *ScriptEngine) SetDir(dir string) {
	se.dir = dir
}

// SetVariable sets a variable in both the Go map and the JS runtime.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// ImportSystemEnv imports upper-case environment variables (THING, MY_VAR).
func (se *ScriptEngine) ImportSystemEnv() {
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if ok && envVarPattern.MatchString(name) {
			se.SetVariable(name, value)
		}
	}
}

// Variable returns a variable value.
func (se *ScriptEngine) Variable(name string) string {
	return se.variables[name]
}

// Variables returns a copy of every variable.
func (se *ScriptEngine) Variables() map[string]string {
	out := make(map[string]string, len(se.variables))
	for k, v := range se.variables {
		out[k] = v
	}
	return out
}

// SetPlatform sets handoff.platform in the JS runtime.
func (se *ScriptEngine) SetPlatform(platform string) {
	se.js.SetPlatform(platform)
}

// ExpandVariables expands ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	text = se.js.ExpandVariables(text)

	// Longest names first so $OTP_LINK is not expanded as $OTP
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})
	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		endPos := pos + len(pattern)
		if endPos < len(text) && isWordByte(text[endPos]) {
			idx = endPos
			continue
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

// RunScript runs an evalScript body and copies the output object back into
// variables. A body ending in .js is read from a file relative to the
// scenario.
func (se *ScriptEngine) RunScript(ctx context.Context, script string) error {
	script = strings.TrimSpace(script)
	if strings.HasSuffix(script, ".js") && !strings.ContainsAny(script, "\n;(") {
		path := se.ResolvePath(script)
		content, err := os.ReadFile(path) //#nosec G304 -- script referenced by the scenario
		if err != nil {
			return fmt.Errorf("read script %s: %w", path, err)
		}
		script = string(content)
	}
	script = extractJS(script)

	if err := se.js.RunScript(ctx, script); err != nil {
		return err
	}
	for k, v := range se.js.Output() {
		se.SetVariable(k, fmt.Sprintf("%v", v))
	}
	return nil
}

// extractJS unwraps a script written as ${...}.
func extractJS(script string) string {
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}

// ResolvePath resolves path against the scenario directory.
func (se *ScriptEngine) ResolvePath(path string) string {
	if filepath.IsAbs(path) || se.dir == "" {
		return path
	}
	return filepath.Join(se.dir, path)
}

// ExpandStep expands variables in the string fields of a step in place.
func (se *ScriptEngine) ExpandStep(step flow.Step) {
	switch s := step.(type) {
	case *flow.LaunchAppStep:
		s.AppID = se.ExpandVariables(s.AppID)
	case *flow.OpenLinkStep:
		s.Link = se.ExpandVariables(s.Link)
	case *flow.FocusWindowStep:
		s.Title = se.ExpandVariables(s.Title)
	case *flow.TapOnStep:
		s.Selector = se.expandSelector(s.Selector)
		s.Point = se.ExpandVariables(s.Point)
	case *flow.LongPressOnStep:
		s.Selector = se.expandSelector(s.Selector)
		s.Point = se.ExpandVariables(s.Point)
	case *flow.InputTextStep:
		s.Text = se.ExpandVariables(s.Text)
		if s.Into != nil {
			into := se.expandSelector(*s.Into)
			s.Into = &into
		}
	case *flow.PressKeyStep:
		s.Key = se.ExpandVariables(s.Key)
	case *flow.AssertVisibleStep:
		s.Selector = se.expandSelector(s.Selector)
	case *flow.WaitForStep:
		s.Selector = se.expandSelector(s.Selector)
	case *flow.TakeScreenshotStep:
		s.Path = se.ExpandVariables(s.Path)
	case *flow.GenerateMailboxStep:
		s.Domain = se.ExpandVariables(s.Domain)
	case *flow.FetchOtpStep:
		s.Mailbox = se.ExpandVariables(s.Mailbox)
	case *flow.HandoffStep:
		s.Code = se.ExpandVariables(s.Code)
		s.Window = se.ExpandVariables(s.Window)
		s.Input = se.expandSelector(s.Input)
		if s.Submit != nil {
			submit := se.expandSelector(*s.Submit)
			s.Submit = &submit
		}
	}
}

// expandSelector returns a copy of sel with variables expanded.
func (se *ScriptEngine) expandSelector(sel flow.Selector) flow.Selector {
	expanded := sel
	expanded.ID = se.ExpandVariables(sel.ID)
	expanded.Desc = se.ExpandVariables(sel.Desc)
	expanded.Text = se.ExpandVariables(sel.Text)
	expanded.XPath = se.ExpandVariables(sel.XPath)
	expanded.CSS = se.ExpandVariables(sel.CSS)
	if len(sel.Or) > 0 {
		expanded.Or = make([]flow.Selector, len(sel.Or))
		for i, alt := range sel.Or {
			expanded.Or[i] = se.expandSelector(alt)
		}
	}
	return expanded
}
