package executor

import (
	"errors"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
)

// statusFor decides how a step ended.
//
// A handoff without a usable code is skipped rather than failed; optional
// steps that fail are warned.
func statusFor(step flow.Step, err error) core.StepStatus {
	switch {
	case err == nil:
		return core.StatusPassed
	case step.Type() == flow.StepHandoff && errors.Is(err, core.ErrExtractionMiss):
		return core.StatusSkipped
	case step.IsOptional():
		return core.StatusWarned
	default:
		return core.StatusFailed
	}
}

// commandResultToStep converts a command outcome into the step record kept
// on the scenario result.
func commandResultToStep(idx int, step flow.Step, r *core.CommandResult, status core.StepStatus) core.StepResult {
	sr := core.StepResult{
		Index:       idx,
		Command:     string(step.Type()),
		Description: describeStep(step),
		Status:      status,
		Duration:    r.Duration,
		Message:     r.Message,
		Data:        r.Data,
	}
	if r.Error != nil {
		sr.Error = r.Error.Error()
		sr.Category = core.CategoryOf(r.Error)
	}
	return sr
}

// describeStep prefers the step label over the generated description.
func describeStep(step flow.Step) string {
	if l := step.Label(); l != "" {
		return l
	}
	return step.Describe()
}
