// Package executor runs scenarios against a backend and writes the report.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

// ArtifactMode determines when to capture screenshots.
type ArtifactMode int

const (
	// ArtifactOnFailure captures a screenshot only when a step fails.
	ArtifactOnFailure ArtifactMode = iota
	// ArtifactAlways captures a screenshot after every step.
	ArtifactAlways
	// ArtifactNever disables screenshot capture.
	ArtifactNever
)

// BackendFactory opens the backend a scenario runs against.
type BackendFactory func(ctx context.Context, sc *flow.Scenario) (core.Backend, error)

// InboxBackendFactory opens the browser the web inbox source drives.
type InboxBackendFactory func(ctx context.Context) (core.Backend, error)

// RunnerConfig configures the scenario runner.
type RunnerConfig struct {
	OutputDir string         // Report output directory
	Config    *config.Config // Timeouts, inbox, identity and OTP settings

	Backend BackendFactory
	// InboxBackend is used by fetchOtp with the web source when the
	// scenario does not run in a browser. Nil reuses the scenario backend.
	InboxBackend InboxBackendFactory

	Clock      retry.Clock // Drives inbox polling and waitFor pauses
	StopOnFail bool        // Skip remaining scenarios after a failure
	Artifacts  ArtifactMode
	Allure     bool // Also write allure-results/
	EmbedHTML  bool // Embed screenshots into report.html

	// Log receives step log entries. A fresh log is used when nil.
	Log *report.StepLog

	RunnerVersion string

	// Live progress callbacks
	OnScenarioStart func(idx, total int, name, file string)
	OnStepComplete  func(idx int, desc string, status core.StepStatus, durationMs int64, err string)
	OnScenarioEnd   func(name string, status core.StepStatus, durationMs int64)
}

// RunResult contains the outcome of a run.
type RunResult struct {
	Status           report.Status
	TotalScenarios   int
	PassedScenarios  int
	FailedScenarios  int
	SkippedScenarios int
	Duration         int64 // Total duration in milliseconds
	Scenarios        []ScenarioSummary
	Report           *report.Report
}

// ScenarioSummary is the short form of one scenario's outcome.
type ScenarioSummary struct {
	ID           string
	Name         string
	Status       report.Status
	Duration     int64
	Error        string
	StepsTotal   int
	StepsPassed  int
	StepsFailed  int
	StepsSkipped int
}

// Runner runs scenarios one after another.
type Runner struct {
	config RunnerConfig
	log    *report.StepLog
}

// New creates a new Runner.
func New(cfg RunnerConfig) *Runner {
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = retry.RealClock{}
	}
	log := cfg.Log
	if log == nil {
		log = report.NewStepLog(cfg.Clock.Now)
	}
	return &Runner{config: cfg, log: log}
}

// Log returns the step log the runner writes to.
func (r *Runner) Log() *report.StepLog { return r.log }

// Run executes the scenarios in order, then writes the report. The report
// is written even when a scenario panics or the context is cancelled.
func (r *Runner) Run(ctx context.Context, scenarios []*flow.Scenario) (*RunResult, error) {
	if r.config.Backend == nil {
		return nil, core.ErrInvalidConfig.WithMessage("no backend factory configured")
	}
	start := r.config.Clock.Now()
	r.log.Reset()

	builder := report.NewBuilder("", start, report.RunnerInfo{Version: r.config.RunnerVersion})
	result := &RunResult{TotalScenarios: len(scenarios)}

	stop := false
	for i, sc := range scenarios {
		id := uuid.NewString()
		if stop || ctx.Err() != nil {
			reason := "run cancelled"
			if stop {
				reason = "run stopped after failure"
			}
			res := &core.ScenarioResult{
				Name:      sc.DisplayName(),
				FilePath:  sc.SourcePath,
				Tags:      sc.Config.Tags,
				Status:    core.StatusSkipped,
				StartTime: r.config.Clock.Now(),
				Error:     reason,
			}
			result.add(builder.AddScenario(id, res, nil), res)
			continue
		}

		res := r.runScenario(ctx, id, sc, i, len(scenarios))
		result.add(builder.AddScenario(id, res.result, res.entries), res.result)
		if r.config.StopOnFail && res.result.Status == core.StatusFailed {
			stop = true
		}
	}

	end := r.config.Clock.Now()
	result.Report = builder.Finish(end)
	result.Status = result.Report.Status
	result.Duration = end.Sub(start).Milliseconds()

	w := report.Writer{
		Dir:    r.config.OutputDir,
		HTML:   report.HTMLConfig{EmbedAssets: r.config.EmbedHTML, Now: r.config.Clock.Now},
		Allure: r.config.Allure,
	}
	if err := w.Flush(result.Report); err != nil {
		return result, fmt.Errorf("write report: %w", err)
	}
	return result, nil
}

type scenarioRun struct {
	result  *core.ScenarioResult
	entries []report.Entry
}

// runScenario opens a backend, runs one scenario and closes the backend.
// A panic anywhere in between fails the scenario instead of the run.
func (r *Runner) runScenario(ctx context.Context, id string, sc *flow.Scenario, idx, total int) (run scenarioRun) {
	seq := r.log.Seq()
	start := r.config.Clock.Now()
	res := &core.ScenarioResult{
		Name:      sc.DisplayName(),
		FilePath:  sc.SourcePath,
		Tags:      sc.Config.Tags,
		StartTime: start,
	}
	run.result = res

	if r.config.OnScenarioStart != nil {
		r.config.OnScenarioStart(idx, total, res.Name, sc.SourcePath)
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("scenario %s panicked: %v", res.Name, p)
			r.log.Fail("Scenario aborted: %v", p)
			res.Error = fmt.Sprintf("panic: %v", p)
			res.Status = core.StatusFailed
		}
		res.Duration = r.config.Clock.Now().Sub(start)
		res.ComputeSummary()
		run.entries = r.log.Since(seq)
		if r.config.OnScenarioEnd != nil {
			r.config.OnScenarioEnd(res.Name, res.Status, res.Duration.Milliseconds())
		}
	}()

	backend, err := r.config.Backend(ctx, sc)
	if err != nil {
		logger.Error("open backend for %s: %v", res.Name, err)
		r.log.Fail("Could not start %s", platformName(sc))
		res.Error = err.Error()
		res.Status = core.StatusFailed
		return run
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close backend: %v", err)
		}
	}()
	res.PlatformInfo = backend.PlatformInfo()

	sr := &ScenarioRunner{
		scenario: sc,
		id:       id,
		backend:  backend,
		config:   r.config,
		log:      r.log,
	}
	sr.Run(ctx, res)
	return run
}

func platformName(sc *flow.Scenario) string {
	if sc.Config.Platform != "" {
		return sc.Config.Platform + " backend"
	}
	return "backend"
}

func (rr *RunResult) add(sc report.Scenario, res *core.ScenarioResult) {
	rr.Scenarios = append(rr.Scenarios, ScenarioSummary{
		ID:           sc.ID,
		Name:         sc.Name,
		Status:       sc.Status,
		Duration:     sc.Duration,
		Error:        sc.Error,
		StepsTotal:   res.TotalSteps,
		StepsPassed:  res.PassedSteps,
		StepsFailed:  res.FailedSteps,
		StepsSkipped: res.SkippedSteps,
	})
	switch sc.Status {
	case report.StatusPassed, report.StatusWarned:
		rr.PassedScenarios++
	case report.StatusFailed:
		rr.FailedScenarios++
	case report.StatusSkipped:
		rr.SkippedScenarios++
	}
}
