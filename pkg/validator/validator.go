// Package validator checks scenario files before execution.
// It parses every file upfront and reports step errors that would otherwise
// only surface halfway through a run.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/otp"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Step    int // 1-based; 0 for file-level errors
	Message string
}

func (e *ValidationError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("%s: step %d: %s", e.File, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files is the list of scenario file paths in execution order.
	Files []string
	// Scenarios holds the parsed scenarios of Files.
	Scenarios []*flow.Scenario
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates scenario files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates a file or directory.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectScenarioFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}
	return result
}

// collectScenarioFiles finds all .yaml/.yml files in a directory.
func collectScenarioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && flow.IsScenarioFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result) {
	sc, err := flow.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}
	if !flow.ShouldInclude(sc, v.includeTags, v.excludeTags) {
		return
	}

	result.Files = append(result.Files, filePath)
	result.Scenarios = append(result.Scenarios, sc)
	if len(sc.Steps) == 0 {
		result.Errors = append(result.Errors, &ValidationError{File: filePath, Message: "scenario has no steps"})
		return
	}
	for _, err := range CheckScenario(sc) {
		result.Errors = append(result.Errors, err)
	}
}

// scenarioState tracks what earlier steps provide to later ones.
type scenarioState struct {
	tapped  bool // a selector tapOn ran, so inputText has a target
	mailbox bool
	fetched bool
}

// CheckScenario checks every step of sc in order.
func CheckScenario(sc *flow.Scenario) []*ValidationError {
	_, hasMailbox := sc.Config.Env[flow.VarMailbox]
	st := &scenarioState{mailbox: hasMailbox}

	var errs []*ValidationError
	for i, step := range sc.Steps {
		for _, msg := range st.check(sc, step) {
			errs = append(errs, &ValidationError{File: sc.SourcePath, Step: i + 1, Message: msg})
		}
	}
	return errs
}

//nolint:gocyclo
func (st *scenarioState) check(sc *flow.Scenario, step flow.Step) []string {
	var errs []string
	addf := func(format string, args ...interface{}) {
		errs = append(errs, string(step.Type())+": "+fmt.Sprintf(format, args...))
	}

	switch s := step.(type) {
	case *flow.LaunchAppStep:
		if s.AppID == "" && sc.Config.AppID == "" && !(sc.Config.Platform == flow.PlatformWeb && sc.Config.URL != "") {
			addf("no appId in the step or the scenario config")
		}

	case *flow.OpenLinkStep:
		if s.Link == "" {
			addf("link is required")
		}

	case *flow.FocusWindowStep:
		if s.Title == "" {
			addf("title is required")
		} else if err := checkPattern(s.Title); err != nil {
			addf("invalid title pattern: %v", err)
		}

	case *flow.TapOnStep:
		errs = append(errs, checkTarget(step, s.Selector, s.Point)...)
		if s.Point == "" {
			st.tapped = true
		}

	case *flow.LongPressOnStep:
		errs = append(errs, checkTarget(step, s.Selector, s.Point)...)
		if s.DurationMs < 0 {
			addf("duration must not be negative")
		}

	case *flow.InputTextStep:
		if s.Text == "" {
			addf("text is required")
		}
		if s.Into != nil {
			errs = append(errs, checkSelector(step, *s.Into)...)
		} else if !st.tapped {
			addf("no \"into\" selector and no preceding tapOn")
		}

	case *flow.PressKeyStep:
		if s.Key == "" {
			addf("key is required")
		}

	case *flow.AssertVisibleStep:
		if s.Selector.IsEmpty() {
			addf("selector is required")
		}
		errs = append(errs, checkSelector(step, s.Selector)...)

	case *flow.WaitForStep:
		if s.Selector.IsEmpty() {
			if s.DurationMs <= 0 {
				addf("needs a selector or a positive duration")
			}
			break
		}
		switch strings.ToLower(s.State) {
		case "", "visible", "exists", "enabled", "ready":
		default:
			addf("unknown state %q", s.State)
		}
		errs = append(errs, checkSelector(step, s.Selector)...)

	case *flow.GenerateMailboxStep:
		if s.Length < 0 {
			addf("length must not be negative")
		}
		if s.OutputVar() == flow.VarMailbox {
			st.mailbox = true
		}

	case *flow.GenerateNameStep:
		if s.Length < 0 {
			addf("length must not be negative")
		}

	case *flow.FetchOtpStep:
		if s.Mailbox == "" && !st.mailbox {
			addf("no mailbox and no preceding generateMailbox")
		}
		switch s.Source {
		case "", config.SourceWeb, config.SourceAPI, config.SourceIMAP, config.SourceMbox:
		default:
			addf("unknown source %q", s.Source)
		}
		if s.MaxWaitMs < 0 || s.IntervalMs < 0 {
			addf("maxWait and interval must not be negative")
		}
		if s.MaxWaitMs > 0 && s.IntervalMs > s.MaxWaitMs {
			addf("interval %dms exceeds maxWait %dms", s.IntervalMs, s.MaxWaitMs)
		}
		if s.Pattern != "" {
			if _, err := otp.NewExtractor(s.Pattern); err != nil {
				addf("%v", err)
			}
		}
		st.fetched = true

	case *flow.HandoffStep:
		if s.Code == "" && !st.fetched {
			addf("no code and no preceding fetchOtp")
		}
		if s.Window != "" {
			if err := checkPattern(s.Window); err != nil {
				addf("invalid window pattern: %v", err)
			}
		}
		if s.Input.IsEmpty() {
			addf("input selector is required")
		}
		errs = append(errs, checkSelector(step, s.Input)...)
		if s.Submit != nil {
			errs = append(errs, checkSelector(step, *s.Submit)...)
		}

	case *flow.EvalScriptStep:
		if strings.TrimSpace(s.Script) == "" {
			addf("script is required")
		}
	}
	return errs
}

func checkTarget(step flow.Step, sel flow.Selector, point string) []string {
	if point != "" {
		if !sel.IsEmpty() {
			return []string{string(step.Type()) + ": use either a selector or a point"}
		}
		if err := checkPoint(point); err != nil {
			return []string{string(step.Type()) + ": " + err.Error()}
		}
		return nil
	}
	if sel.IsEmpty() {
		return []string{string(step.Type()) + ": selector or point is required"}
	}
	return checkSelector(step, sel)
}

// checkSelector compiles the text pattern of sel and every alternative.
func checkSelector(step flow.Step, sel flow.Selector) []string {
	var errs []string
	for _, alt := range sel.Alternatives() {
		if _, err := alt.TextPattern(); err != nil {
			errs = append(errs, string(step.Type())+": "+err.Error())
		}
		if alt.Index < 0 {
			errs = append(errs, string(step.Type())+": index must not be negative")
		}
	}
	return errs
}

// checkPattern compiles a pattern unless it still holds ${...} expressions.
func checkPattern(p string) error {
	if strings.Contains(p, "${") {
		return nil
	}
	_, err := regexp.Compile(p)
	return err
}

func checkPoint(p string) error {
	if strings.Contains(p, "${") {
		return nil
	}
	xs, ys, ok := strings.Cut(p, ",")
	if ok {
		_, errX := strconv.Atoi(strings.TrimSpace(xs))
		_, errY := strconv.Atoi(strings.TrimSpace(ys))
		if errX == nil && errY == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid point %q, want \"x,y\"", p)
}
