package core

// StepStatus represents the execution status of a scenario step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Required step failed; remainder of the scenario is skipped
	StatusSkipped                   // Not run: earlier failure or missing dependency (no OTP)
	StatusWarned                    // Optional step failed (non-blocking)
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusWarned:
		return "warned"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusWarned:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success (passed or warned)
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusWarned
}

// Outcome is the status written next to a step-log entry.
type Outcome string

// Outcome values, as they appear in the report.
const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
	OutcomeInfo Outcome = "INFO"
)

// OutcomeFor maps a step status to the outcome recorded in the step log.
func OutcomeFor(s StepStatus) Outcome {
	switch s {
	case StatusPassed:
		return OutcomePass
	case StatusFailed:
		return OutcomeFail
	default:
		return OutcomeInfo
	}
}

// ErrorCategory classifies the type of error for reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryControl                         // Control or window never appeared / never became interactive
	ErrCategoryExtraction                      // Message text held no code
	ErrCategoryTimeout                         // Polling budget or wait exhausted
	ErrCategoryConnection                      // Automation server or mail server unreachable
	ErrCategoryApp                             // App not installed, not launchable
	ErrCategoryConfig                          // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryControl:
		return "control"
	case ErrCategoryExtraction:
		return "extraction"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
