// Package report records what a run did and renders it.
//
// Layout of a report directory:
//   - report.json: the whole run (scenarios, steps, step log entries)
//   - report.html: two-column step table per scenario
//   - assets/<scenario-id>/: screenshots and other attachments
//   - allure-results/: optional Allure result files
package report

import (
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusWarned  Status = "warned"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped || s == StatusWarned
}

// StatusFrom converts an execution status.
func StatusFrom(s core.StepStatus) Status {
	switch s {
	case core.StatusPassed:
		return StatusPassed
	case core.StatusFailed:
		return StatusFailed
	case core.StatusSkipped:
		return StatusSkipped
	case core.StatusWarned:
		return StatusWarned
	case core.StatusRunning:
		return StatusRunning
	default:
		return StatusPending
	}
}

// Report is the content of report.json.
type Report struct {
	Version   string             `json:"version"`
	RunID     string             `json:"runId"`
	Status    Status             `json:"status"`
	StartTime time.Time          `json:"startTime"`
	EndTime   *time.Time         `json:"endTime,omitempty"`
	Platform  *core.PlatformInfo `json:"platform,omitempty"`
	Runner    RunnerInfo         `json:"runner"`
	Summary   Summary            `json:"summary"`
	Scenarios []Scenario         `json:"scenarios"`
}

// RunnerInfo describes the tool that produced the report.
type RunnerInfo struct {
	Version string `json:"version"`
	Backend string `json:"backend"` // appium, chrome, mock
}

// Summary contains aggregated scenario counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Warned  int `json:"warned"`
}

// Scenario is one executed scenario.
type Scenario struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceFile string    `json:"sourceFile"`
	Tags       []string  `json:"tags,omitempty"`
	Status     Status    `json:"status"`
	StartTime  time.Time `json:"startTime"`
	Duration   int64     `json:"duration"` // milliseconds
	Error      string    `json:"error,omitempty"`
	Steps      []Step    `json:"steps"`
	Entries    []Entry   `json:"entries"`
}

// Step is one executed scenario step.
type Step struct {
	Index       int       `json:"index"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	StartTime   time.Time `json:"startTime"`
	Duration    int64     `json:"duration"` // milliseconds
	Error       string    `json:"error,omitempty"`
	Category    string    `json:"category,omitempty"` // control, extraction, timeout, ...
}
