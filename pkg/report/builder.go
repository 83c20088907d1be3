package report

import (
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/google/uuid"
)

// Builder assembles a Report as scenarios finish.
type Builder struct {
	report Report
}

// NewBuilder starts a report. An empty runID gets a fresh UUID.
func NewBuilder(runID string, start time.Time, runner RunnerInfo) *Builder {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Builder{report: Report{
		Version:   Version,
		RunID:     runID,
		Status:    StatusRunning,
		StartTime: start,
		Runner:    runner,
		Scenarios: []Scenario{},
	}}
}

// RunID returns the run identifier.
func (b *Builder) RunID() string { return b.report.RunID }

// AddScenario records a finished scenario with the step log entries it
// produced. id names its assets directory; empty gets a fresh UUID.
func (b *Builder) AddScenario(id string, res *core.ScenarioResult, entries []Entry) Scenario {
	if id == "" {
		id = uuid.NewString()
	}
	sc := Scenario{
		ID:         id,
		Name:       res.Name,
		SourceFile: res.FilePath,
		Tags:       res.Tags,
		Status:     StatusFrom(res.Status),
		StartTime:  res.StartTime,
		Duration:   res.Duration.Milliseconds(),
		Error:      res.Error,
		Steps:      make([]Step, 0, len(res.Steps)),
		Entries:    entries,
	}
	if sc.Entries == nil {
		sc.Entries = []Entry{}
	}
	for _, s := range res.Steps {
		step := Step{
			Index:       s.Index,
			Type:        s.Command,
			Description: s.Description,
			Status:      StatusFrom(s.Status),
			StartTime:   s.StartTime,
			Duration:    s.Duration.Milliseconds(),
			Error:       s.Error,
		}
		if s.Category != core.ErrCategoryNone {
			step.Category = s.Category.String()
		}
		sc.Steps = append(sc.Steps, step)
	}
	if res.PlatformInfo != nil && b.report.Platform == nil {
		b.report.Platform = res.PlatformInfo
	}

	b.report.Scenarios = append(b.report.Scenarios, sc)
	b.report.Summary = computeSummary(b.report.Scenarios)
	return sc
}

// SetPlatform records the backend the run used.
func (b *Builder) SetPlatform(p *core.PlatformInfo) {
	b.report.Platform = p
	if p != nil && b.report.Runner.Backend == "" {
		b.report.Runner.Backend = p.Backend
	}
}

// Finish stamps the end time and overall status and returns the report.
func (b *Builder) Finish(end time.Time) *Report {
	b.report.EndTime = &end
	b.report.Summary = computeSummary(b.report.Scenarios)
	b.report.Status = computeRunStatus(b.report.Summary)
	r := b.report
	return &r
}

func computeSummary(scenarios []Scenario) Summary {
	s := Summary{Total: len(scenarios)}
	for _, sc := range scenarios {
		switch sc.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusWarned:
			s.Warned++
		}
	}
	return s
}

func computeRunStatus(s Summary) Status {
	switch {
	case s.Failed > 0:
		return StatusFailed
	case s.Total == 0 || s.Skipped == s.Total:
		return StatusSkipped
	case s.Warned > 0:
		return StatusWarned
	default:
		return StatusPassed
	}
}
