// Package core provides the execution model types for otp-handoff.
package core

import (
	"time"
)

// CommandResult represents the outcome of executing a single step
type CommandResult struct {
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Control interacted with, if any
	Control *Control `json:"control,omitempty"`

	// Command-specific data: extracted code, generated mailbox, focused window title
	Data interface{} `json:"data,omitempty"`

	// Skipped marks a step that did not run because a dependency was missing
	Skipped bool `json:"skipped,omitempty"`
}

// Attachment represents a debug artifact captured for a step
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot, message-body
	ContentType string `json:"contentType"` // MIME type: image/png, text/plain
	Path        string `json:"path"`        // File path relative to output directory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
)

// NewScreenshotAttachment creates a screenshot attachment
func NewScreenshotAttachment(name string, data []byte) Attachment {
	return Attachment{
		Name:        name,
		ContentType: ContentTypePNG,
		Body:        data,
	}
}

// StepResult captures the complete outcome of executing a single step
type StepResult struct {
	Index       int           `json:"index"`   // 0-based position in scenario
	Command     string        `json:"command"` // Step type: tapOn, fetchOtp, handoff, ...
	Description string        `json:"description"`
	Status      StepStatus    `json:"status"`
	Category    ErrorCategory `json:"errorCategory,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Data        interface{}   `json:"data,omitempty"`
}

// ScenarioResult captures the complete outcome of executing a scenario
type ScenarioResult struct {
	Name     string   `json:"name"`
	FilePath string   `json:"filePath"`
	Tags     []string `json:"tags,omitempty"`

	PlatformInfo *PlatformInfo `json:"platformInfo,omitempty"`

	Status    StepStatus    `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	Steps []StepResult `json:"steps"`

	TotalSteps   int `json:"totalSteps"`
	PassedSteps  int `json:"passedSteps"`
	FailedSteps  int `json:"failedSteps"`
	SkippedSteps int `json:"skippedSteps"`
	WarnedSteps  int `json:"warnedSteps"`

	Error string `json:"error,omitempty"`
}

// ComputeSummary calculates step counts from the Steps slice
func (r *ScenarioResult) ComputeSummary() {
	r.TotalSteps = len(r.Steps)
	r.PassedSteps = 0
	r.FailedSteps = 0
	r.SkippedSteps = 0
	r.WarnedSteps = 0

	for _, step := range r.Steps {
		switch step.Status {
		case StatusPassed:
			r.PassedSteps++
		case StatusFailed:
			r.FailedSteps++
		case StatusSkipped:
			r.SkippedSteps++
		case StatusWarned:
			r.WarnedSteps++
		}
	}
}

// AggregateStatus determines the scenario status from step results
// Rules:
// - Any failed step → StatusFailed
// - Passed with some warned (optional failures) → StatusWarned
// - Otherwise → StatusPassed
func (r *ScenarioResult) AggregateStatus() StepStatus {
	warned := false
	for _, step := range r.Steps {
		switch step.Status {
		case StatusFailed:
			return StatusFailed
		case StatusWarned:
			warned = true
		}
	}
	if r.Error != "" {
		return StatusFailed
	}
	if warned {
		return StatusWarned
	}
	return StatusPassed
}
