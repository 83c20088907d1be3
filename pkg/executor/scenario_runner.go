package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/inbox"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/otp"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

const (
	// A tap at a point is a press this short.
	tapDuration = 100 * time.Millisecond
	// DefaultLongPress is used when longPressOn has no duration.
	DefaultLongPress = time.Second
)

// ScenarioRunner executes the steps of one scenario on one backend.
type ScenarioRunner struct {
	scenario *flow.Scenario
	id       string // Names the scenario's assets directory
	backend  core.Backend
	config   RunnerConfig
	log      *report.StepLog

	script *ScriptEngine
	// focused is the last tapped control. inputText without "into" types here.
	focused *core.Control
	// code is the last fetched code. It is shared with the handoff so that
	// it is delivered at most once.
	code otp.Code
	// cycle is the retrieval waiting for its handoff, if any.
	cycle *otp.Retrieval

	inbox     core.Backend
	ownsInbox bool
}

// Run executes every step and fills in res. A required step that fails
// skips the rest of the scenario.
func (sr *ScenarioRunner) Run(ctx context.Context, res *core.ScenarioResult) {
	sc := sr.scenario
	sr.script = NewScriptEngine()
	sr.script.ImportSystemEnv()
	if sc.SourcePath != "" {
		sr.script.SetDir(filepath.Dir(sc.SourcePath))
	}
	platform := sc.Config.Platform
	if res.PlatformInfo != nil && res.PlatformInfo.Platform != "" {
		platform = res.PlatformInfo.Platform
	}
	sr.script.SetPlatform(platform)
	if sc.Config.AppID != "" {
		sr.script.SetVariable("APP_ID", sc.Config.AppID)
	}
	sr.script.SetVariables(sr.config.Config.Env)
	sr.script.SetVariables(sc.Config.Env)
	defer sr.closeInbox()
	defer sr.finishCycle()

	if sc.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sc.Config.Timeout)*time.Millisecond)
		defer cancel()
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			res.Error = "execution cancelled: " + err.Error()
			sr.skipFrom(res, i)
			break
		}

		sres := sr.executeStep(ctx, i, step)
		res.Steps = append(res.Steps, sres)
		if sr.config.OnStepComplete != nil {
			sr.config.OnStepComplete(i, sres.Description, sres.Status, sres.Duration.Milliseconds(), sres.Error)
		}
		if sres.Status == core.StatusFailed {
			res.Error = sres.Error
			sr.skipFrom(res, i+1)
			break
		}
	}
	res.Status = res.AggregateStatus()
}

// skipFrom records every step from idx on as skipped.
func (sr *ScenarioRunner) skipFrom(res *core.ScenarioResult, idx int) {
	for j := idx; j < len(sr.scenario.Steps); j++ {
		step := sr.scenario.Steps[j]
		res.Steps = append(res.Steps, core.StepResult{
			Index:       j,
			Command:     string(step.Type()),
			Description: describeStep(step),
			Status:      core.StatusSkipped,
		})
	}
}

// executeStep expands variables, runs the step and records its outcome in
// the step log.
func (sr *ScenarioRunner) executeStep(ctx context.Context, idx int, step flow.Step) core.StepResult {
	start := sr.config.Clock.Now()
	seq := sr.log.Seq()

	sr.script.ExpandStep(step)
	result := sr.dispatch(ctx, idx, step)
	result.Duration = sr.config.Clock.Now().Sub(start)

	status := statusFor(step, result.Error)
	switch status {
	case core.StatusFailed:
		logger.Error("step %d (%s) failed: %v", idx, step.Type(), result.Error)
		if !sr.failLogged(seq) {
			sr.log.Fail("%s failed", describeStep(step))
		}
		sr.captureScreenshot(ctx, sr.backend, fmt.Sprintf("step-%02d-failure.png", idx))
	case core.StatusWarned:
		logger.Warn("optional step %d (%s) failed: %v", idx, step.Type(), result.Error)
		sr.log.Info("Optional step skipped: %s", describeStep(step))
	case core.StatusSkipped:
		logger.Info("step %d (%s) skipped: %v", idx, step.Type(), result.Error)
	}
	if sr.config.Artifacts == ArtifactAlways && status != core.StatusFailed && sr.log.Seq() > seq {
		sr.captureScreenshot(ctx, sr.backend, fmt.Sprintf("step-%02d.png", idx))
	}

	sres := commandResultToStep(idx, step, result, status)
	sres.StartTime = start
	return sres
}

// failLogged reports whether a FAIL entry was added after seq.
func (sr *ScenarioRunner) failLogged(seq int) bool {
	for _, e := range sr.log.Since(seq) {
		if e.Outcome == core.OutcomeFail {
			return true
		}
	}
	return false
}

// dispatch routes a step to its handler. A panic becomes a step error.
func (sr *ScenarioRunner) dispatch(ctx context.Context, idx int, step flow.Step) (result *core.CommandResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic in step %d (%s): %v", idx, step.Type(), p)
			result = failure(fmt.Errorf("panic: %v", p))
		}
	}()

	switch s := step.(type) {
	case *flow.LaunchAppStep:
		return sr.launchApp(ctx, s)
	case *flow.OpenLinkStep:
		return sr.openLink(ctx, s)
	case *flow.FocusWindowStep:
		return sr.focusWindow(ctx, s)
	case *flow.TapOnStep:
		return sr.tapOn(ctx, s)
	case *flow.LongPressOnStep:
		return sr.longPressOn(ctx, s)
	case *flow.InputTextStep:
		return sr.inputText(ctx, s)
	case *flow.BackStep:
		if err := sr.backend.Back(ctx); err != nil {
			return failure(err)
		}
		return sr.pass(s, "Navigated back")
	case *flow.PressKeyStep:
		if err := sr.backend.PressKey(ctx, s.Key); err != nil {
			return failure(err)
		}
		return sr.pass(s, "Pressed %s", s.Key)
	case *flow.AssertVisibleStep:
		if _, err := sr.backend.WaitFor(ctx, s.Selector, core.StateVisible, sr.timeout(s)); err != nil {
			return failure(err)
		}
		return sr.pass(s, "%s is visible", s.Selector.Describe())
	case *flow.WaitForStep:
		return sr.waitFor(ctx, s)
	case *flow.TakeScreenshotStep:
		return sr.takeScreenshot(ctx, idx, s)
	case *flow.GenerateMailboxStep:
		return sr.generateMailbox(s)
	case *flow.GenerateNameStep:
		return sr.generateName(s)
	case *flow.FetchOtpStep:
		return sr.fetchOtp(ctx, s)
	case *flow.HandoffStep:
		return sr.handoff(ctx, s)
	case *flow.EvalScriptStep:
		if err := sr.script.RunScript(ctx, s.Script); err != nil {
			return failure(err)
		}
		return &core.CommandResult{Success: true, Message: "Script evaluated"}
	default:
		return failure(core.ErrUnsupported.WithMessage(fmt.Sprintf("unsupported step %s", step.Type())))
	}
}

func failure(err error) *core.CommandResult {
	return &core.CommandResult{Success: false, Error: err, Message: err.Error()}
}

// pass logs a PASS entry. The step label, when set, replaces the message.
func (sr *ScenarioRunner) pass(step flow.Step, format string, args ...interface{}) *core.CommandResult {
	msg := fmt.Sprintf(format, args...)
	if l := step.Label(); l != "" {
		sr.log.Pass("%s", l)
	} else {
		sr.log.Pass("%s", msg)
	}
	return &core.CommandResult{Success: true, Message: msg}
}

func (sr *ScenarioRunner) timeout(step flow.Step) time.Duration {
	if t := step.Timeout(); t > 0 {
		return t
	}
	return sr.config.Config.Timeouts.Default
}

func (sr *ScenarioRunner) launchApp(ctx context.Context, s *flow.LaunchAppStep) *core.CommandResult {
	appID := s.AppID
	if appID == "" {
		appID = sr.scenario.Config.AppID
	}
	if appID == "" && sr.scenario.Config.Platform == flow.PlatformWeb {
		appID = sr.scenario.Config.URL
	}
	if appID == "" {
		return failure(core.ErrMissingRequired.WithMessage("launchApp needs an appId"))
	}
	if err := sr.backend.LaunchApp(ctx, appID); err != nil {
		return failure(err)
	}
	return sr.pass(s, "Launched %s", appID)
}

func (sr *ScenarioRunner) openLink(ctx context.Context, s *flow.OpenLinkStep) *core.CommandResult {
	if s.Link == "" || strings.Contains(s.Link, "${") {
		return failure(core.ErrMissingRequired.WithMessage(fmt.Sprintf("openLink has no resolved link (%q)", s.Link)))
	}
	if err := sr.backend.Navigate(ctx, s.Link); err != nil {
		return failure(err)
	}
	return sr.pass(s, "Opened %s", s.Link)
}

func (sr *ScenarioRunner) focusWindow(ctx context.Context, s *flow.FocusWindowStep) *core.CommandResult {
	pattern, err := regexp.Compile(s.Title)
	if err != nil {
		return failure(core.ErrInvalidConfig.WithMessage(fmt.Sprintf("invalid window pattern %q", s.Title)).WithCause(err))
	}
	title, err := sr.backend.FocusWindow(ctx, pattern, sr.timeout(s))
	if err != nil {
		sr.log.Fail("Window %q not found", s.Title)
		return failure(err)
	}
	r := sr.pass(s, "Focused window %q", title)
	r.Data = title
	return r
}

func (sr *ScenarioRunner) tapOn(ctx context.Context, s *flow.TapOnStep) *core.CommandResult {
	if s.Point != "" {
		x, y, err := parsePoint(s.Point)
		if err != nil {
			return failure(err)
		}
		if err := sr.backend.LongPress(ctx, x, y, tapDuration); err != nil {
			return failure(err)
		}
		return sr.pass(s, "Tapped on point %d,%d", x, y)
	}

	c, err := sr.backend.WaitFor(ctx, s.Selector, core.StateReady, sr.timeout(s))
	if err != nil {
		return failure(err)
	}
	if err := sr.backend.Click(ctx, c); err != nil {
		return failure(err)
	}
	sr.focused = c
	r := sr.pass(s, "Tapped on %s", s.Selector.Describe())
	r.Control = c
	return r
}

func (sr *ScenarioRunner) longPressOn(ctx context.Context, s *flow.LongPressOnStep) *core.CommandResult {
	d := time.Duration(s.DurationMs) * time.Millisecond
	if d <= 0 {
		d = DefaultLongPress
	}

	var x, y int
	if s.Point != "" {
		var err error
		if x, y, err = parsePoint(s.Point); err != nil {
			return failure(err)
		}
	} else {
		c, err := sr.backend.WaitFor(ctx, s.Selector, core.StateVisible, sr.timeout(s))
		if err != nil {
			return failure(err)
		}
		x, y = c.Bounds.Center()
	}
	if err := sr.backend.LongPress(ctx, x, y, d); err != nil {
		return failure(err)
	}
	return sr.pass(s, "Long pressed at %d,%d", x, y)
}

func (sr *ScenarioRunner) inputText(ctx context.Context, s *flow.InputTextStep) *core.CommandResult {
	target := sr.focused
	if s.Into != nil && !s.Into.IsEmpty() {
		c, err := sr.backend.WaitFor(ctx, *s.Into, core.StateReady, sr.timeout(s))
		if err != nil {
			return failure(err)
		}
		target = c
	}
	if target == nil {
		return failure(core.ErrMissingRequired.WithMessage("inputText needs \"into\" or a preceding tapOn"))
	}

	var err error
	if s.Paste {
		err = sr.backend.PasteText(ctx, target, s.Text)
	} else {
		err = sr.backend.TypeText(ctx, target, s.Text)
	}
	if err != nil {
		return failure(err)
	}
	sr.focused = target
	return sr.pass(s, "Entered %q", s.Text)
}

func (sr *ScenarioRunner) waitFor(ctx context.Context, s *flow.WaitForStep) *core.CommandResult {
	if s.Selector.IsEmpty() {
		d := time.Duration(s.DurationMs) * time.Millisecond
		if err := sr.config.Clock.Sleep(ctx, d); err != nil {
			return failure(err)
		}
		return &core.CommandResult{Success: true, Message: "Waited " + d.String()}
	}

	state, err := parseState(s.State)
	if err != nil {
		return failure(err)
	}
	if _, err := sr.backend.WaitFor(ctx, s.Selector, state, sr.timeout(s)); err != nil {
		return failure(err)
	}
	return sr.pass(s, "%s is %s", s.Selector.Describe(), state)
}

func (sr *ScenarioRunner) takeScreenshot(ctx context.Context, idx int, s *flow.TakeScreenshotStep) *core.CommandResult {
	data, err := sr.backend.Screenshot(ctx)
	if err != nil {
		return failure(err)
	}
	name := s.Path
	if name == "" {
		name = fmt.Sprintf("screenshot-%02d", idx)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".png") {
		name += ".png"
	}
	path, err := report.SaveAttachment(sr.config.OutputDir, sr.id, name, data)
	if err != nil {
		return failure(fmt.Errorf("save screenshot: %w", err))
	}
	sr.log.Info("Screenshot %s", filepath.Base(path))
	sr.log.AttachLast(path)
	return &core.CommandResult{Success: true, Message: "Screenshot saved", Data: path}
}

// captureScreenshot attaches a screenshot of b to the latest log entry.
// Failures are only logged.
func (sr *ScenarioRunner) captureScreenshot(ctx context.Context, b core.Backend, name string) {
	if sr.config.Artifacts == ArtifactNever || b == nil {
		return
	}
	data, err := b.Screenshot(ctx)
	if err != nil || len(data) == 0 {
		logger.Debug("screenshot %s: %v", name, err)
		return
	}
	path, err := report.SaveAttachment(sr.config.OutputDir, sr.id, name, data)
	if err != nil {
		logger.Warn("save screenshot %s: %v", name, err)
		return
	}
	sr.log.AttachLast(path)
}

func (sr *ScenarioRunner) generator() identity.Generator {
	id := sr.config.Config.Identity
	return identity.Generator{
		Domain:       id.Domain,
		PrefixLength: id.PrefixLength,
		Tag:          id.Tag,
		NameLength:   id.NameLength,
	}
}

func (sr *ScenarioRunner) generateMailbox(s *flow.GenerateMailboxStep) *core.CommandResult {
	gen := sr.generator()
	if s.Domain != "" {
		gen.Domain = s.Domain
	}
	if s.Length > 0 {
		gen.PrefixLength = s.Length
	}
	mb, err := gen.Mailbox()
	if err != nil {
		return failure(core.ErrInvalidConfig.WithMessage(err.Error()))
	}
	sr.script.SetVariable(s.OutputVar(), mb.String())
	sr.log.Info("Generated mailbox %s", mb)
	return &core.CommandResult{Success: true, Message: "Generated mailbox", Data: mb.String()}
}

func (sr *ScenarioRunner) generateName(s *flow.GenerateNameStep) *core.CommandResult {
	gen := sr.generator()
	if s.Length > 0 {
		gen.NameLength = s.Length
	}
	first, last, err := gen.Name()
	if err != nil {
		return failure(core.ErrInvalidConfig.WithMessage(err.Error()))
	}
	firstVar, lastVar := s.OutputVars()
	sr.script.SetVariable(firstVar, first)
	sr.script.SetVariable(lastVar, last)
	sr.log.Info("Generated name %s %s", first, last)
	return &core.CommandResult{Success: true, Message: "Generated name", Data: first + " " + last}
}

func (sr *ScenarioRunner) fetchOtp(ctx context.Context, s *flow.FetchOtpStep) *core.CommandResult {
	cfg := sr.config.Config
	sr.finishCycle()
	sr.code = otp.Code{}

	addr := s.Mailbox
	if addr == "" {
		addr = sr.script.Variable(flow.VarMailbox)
	}
	mailbox, err := identity.ParseMailbox(addr, cfg.Identity.Domain)
	if err != nil || strings.Contains(addr, "${") {
		return failure(core.ErrMissingRequired.WithMessage("fetchOtp needs a mailbox: set mailbox or run generateMailbox first"))
	}

	inboxCfg := cfg.Inbox
	if s.Source != "" {
		inboxCfg.Source = s.Source
	}
	var browser core.Backend
	if inboxCfg.Source == "" || inboxCfg.Source == config.SourceWeb {
		if browser, err = sr.inboxBackend(ctx); err != nil {
			return failure(err)
		}
	}
	src, err := inbox.NewSource(inboxCfg, browser)
	if err != nil {
		return failure(err)
	}
	if ws, ok := src.(*inbox.WebSource); ok {
		ws.OnFail = func(ctx context.Context, name string) {
			sr.captureScreenshot(ctx, browser, name+".png")
		}
	}

	pattern := s.Pattern
	if pattern == "" {
		pattern = cfg.OTP.Pattern
	}
	extractor, err := otp.NewExtractor(pattern)
	if err != nil {
		return failure(core.ErrInvalidConfig.WithMessage(err.Error()))
	}

	poller := inbox.NewPoller(src, sr.config.Clock, sr.log)
	defer func() {
		if err := poller.Close(); err != nil {
			logger.Warn("close inbox: %v", err)
		}
	}()

	opts := inbox.Options{MaxWait: inboxCfg.MaxWait, Interval: inboxCfg.Interval}
	if s.MaxWaitMs > 0 {
		opts.MaxWait = time.Duration(s.MaxWaitMs) * time.Millisecond
	}
	if s.IntervalMs > 0 {
		opts.Interval = time.Duration(s.IntervalMs) * time.Millisecond
	}

	retriever := &otp.Retriever{Poller: poller, Extractor: extractor, Log: sr.log}
	out, err := retriever.Start(ctx, mailbox, opts)
	if out.Link != "" {
		sr.script.SetVariable(flow.VarVerifyLink, out.Link)
	}
	if err != nil {
		if errors.Is(err, core.ErrTimeoutExhausted) {
			sr.log.Fail("OTP not found")
		}
		return failure(err)
	}

	sr.code = out.Code
	sr.cycle = &out
	sr.script.SetVariable(s.OutputVar(), out.Code.Value())
	return &core.CommandResult{Success: true, Message: "OTP fetched", Data: out.Code.Value()}
}

// inboxBackend returns the backend the web inbox source drives, opening a
// dedicated one on first use when a factory is configured.
func (sr *ScenarioRunner) inboxBackend(ctx context.Context) (core.Backend, error) {
	if sr.config.InboxBackend == nil {
		return sr.backend, nil
	}
	if sr.inbox == nil {
		b, err := sr.config.InboxBackend(ctx)
		if err != nil {
			return nil, fmt.Errorf("open inbox browser: %w", err)
		}
		sr.inbox, sr.ownsInbox = b, true
	}
	return sr.inbox, nil
}

// finishCycle closes a retrieval that never reached a handoff.
func (sr *ScenarioRunner) finishCycle() {
	if sr.cycle == nil {
		return
	}
	sr.cycle.Finish()
	logger.Debug("otp cycle: %v", sr.cycle.History)
	sr.cycle = nil
}

func (sr *ScenarioRunner) closeInbox() {
	if sr.inbox == nil || !sr.ownsInbox {
		return
	}
	if err := sr.inbox.Close(); err != nil {
		logger.Warn("close inbox browser: %v", err)
	}
	sr.inbox = nil
}

func (sr *ScenarioRunner) handoff(ctx context.Context, s *flow.HandoffStep) *core.CommandResult {
	code := sr.code
	fetched := true
	switch {
	case s.Code == "" || s.Code == code.Value():
	case strings.Contains(s.Code, "${"):
		code, fetched = otp.Code{}, false
	default:
		code, fetched = otp.NewCode(s.Code), false
	}

	h := &otp.Handoff{
		Backend:        sr.backend,
		Log:            sr.log,
		WindowTitle:    s.Window,
		Input:          s.Input,
		Submit:         s.Submit,
		Paste:          s.Paste,
		AcceptAlert:    s.AcceptAlert,
		WindowTimeout:  sr.timeout(s),
		ControlTimeout: sr.config.Config.Timeouts.Short,
	}
	var (
		err     error
		history []otp.State
	)
	if fetched && sr.cycle != nil && sr.cycle.Open() {
		err = sr.cycle.Deliver(ctx, h)
		history = sr.cycle.History
		logger.Debug("otp cycle: %v", history)
		sr.cycle = nil
	} else {
		err = h.Deliver(ctx, code)
	}
	if err != nil {
		return failure(err)
	}
	r := &core.CommandResult{Success: true, Message: "OTP delivered"}
	if history != nil {
		r.Data = history
	}
	return r
}

// parsePoint parses "x,y" pixel coordinates.
func parsePoint(p string) (int, int, error) {
	xs, ys, ok := strings.Cut(p, ",")
	if ok {
		x, errX := strconv.Atoi(strings.TrimSpace(xs))
		y, errY := strconv.Atoi(strings.TrimSpace(ys))
		if errX == nil && errY == nil {
			return x, y, nil
		}
	}
	return 0, 0, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("invalid point %q, want \"x,y\"", p))
}

// parseState maps a waitFor state name to a control state. Empty means visible.
func parseState(s string) (core.ControlState, error) {
	switch strings.ToLower(s) {
	case "", "visible":
		return core.StateVisible, nil
	case "exists":
		return core.StateExists, nil
	case "enabled":
		return core.StateEnabled, nil
	case "ready":
		return core.StateReady, nil
	}
	return 0, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown state %q", s))
}
