package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: control_not_found, timeout_exhausted, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context (selector, window pattern, timeout)
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code, so that
// errors.Is(err, ErrControlNotFound) holds for copies made by WithCause etc.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Control errors: a targeted element or window never showed up in time
	ErrControlNotFound = &ExecutionError{
		Category: ErrCategoryControl,
		Code:     "control_not_found",
		Message:  "control not found",
	}
	ErrControlNotInteractive = &ExecutionError{
		Category: ErrCategoryControl,
		Code:     "control_not_interactive",
		Message:  "control did not become interactive",
	}
	ErrWindowNotFound = &ExecutionError{
		Category: ErrCategoryControl,
		Code:     "window_not_found",
		Message:  "window not found",
	}
	ErrTextMismatch = &ExecutionError{
		Category: ErrCategoryControl,
		Code:     "text_mismatch",
		Message:  "text does not match expected value",
	}

	// Extraction errors
	ErrExtractionMiss = &ExecutionError{
		Category: ErrCategoryExtraction,
		Code:     "extraction_miss",
		Message:  "OTP not found",
	}

	// Timeout errors
	ErrTimeoutExhausted = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout_exhausted",
		Message:  "polling budget exhausted",
	}

	// Connection errors
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}
	ErrMailServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "mail_server_unreachable",
		Message:  "could not reach mail service",
	}

	// App errors
	ErrAppNotLaunched = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_not_launched",
		Message:  "application could not be launched",
	}
	ErrUnsupported = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "unsupported",
		Message:  "operation not supported by this backend",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrCategoryNone
}
