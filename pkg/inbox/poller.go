// Package inbox polls a mailbox until a new message arrives.
//
// A Poller owns at most one polling session at a time. Each attempt asks
// its Source to wait up to one interval for a message; a miss refreshes the
// inbox and tries again until the budget runs out.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

// ErrSessionActive is returned by Poll while another Poll is running.
var ErrSessionActive = core.NewExecutionError(core.ErrCategoryConfig, "session_active", "an inbox polling session is already active")

// Source is a mailbox the Poller can watch.
type Source interface {
	// Open prepares the source for mailbox. Step log entries for setup go to log.
	Open(ctx context.Context, mailbox identity.Mailbox, log *report.StepLog) error
	// Await waits up to window for a new message. On success the message is
	// selected so that Body returns it.
	Await(ctx context.Context, window time.Duration) (bool, error)
	// Refresh asks the source to reload. A missing refresh control is
	// reported as core.ErrControlNotFound.
	Refresh(ctx context.Context) error
	// Body returns the text of the selected message.
	Body(ctx context.Context) (string, error)
	Close() error
}

// Options bounds a polling session.
type Options struct {
	MaxWait  time.Duration
	Interval time.Duration
}

// Session is the active polling session.
type Session struct {
	Mailbox  identity.Mailbox
	Start    time.Time
	Deadline time.Time
	Interval time.Duration
}

// Result describes how a polling session ended.
type Result struct {
	Found     bool
	TimedOut  bool
	Attempts  int
	Refreshes int
	Elapsed   time.Duration
}

// Step log descriptions.
const (
	MsgSelected  = "Clicked on first email row"
	MsgRefreshed = "Refreshed inbox"
)

// Poller watches a Source for new mail.
type Poller struct {
	Source Source
	Clock  retry.Clock
	Log    *report.StepLog

	busy    sync.Mutex
	mu      sync.Mutex
	session *Session
}

// NewPoller creates a poller over src.
func NewPoller(src Source, clock retry.Clock, log *report.StepLog) *Poller {
	return &Poller{Source: src, Clock: clock, Log: log}
}

// Poll opens mailbox and waits for a message. Running out of budget is not
// an error: the Result reports TimedOut and a FAIL entry is logged.
func (p *Poller) Poll(ctx context.Context, mailbox identity.Mailbox, opts Options) (Result, error) {
	switch {
	case p.Source == nil:
		return Result{}, core.ErrInvalidConfig.WithMessage("inbox source is not configured")
	case mailbox.IsZero():
		return Result{}, core.ErrInvalidConfig.WithMessage("mailbox is empty")
	case opts.MaxWait <= 0:
		return Result{}, core.ErrInvalidConfig.WithMessage("max wait must be positive")
	case opts.Interval <= 0:
		return Result{}, core.ErrInvalidConfig.WithMessage("poll interval must be positive")
	}
	if !p.busy.TryLock() {
		return Result{}, ErrSessionActive
	}
	defer p.busy.Unlock()

	clock := p.Clock
	if clock == nil {
		clock = retry.RealClock{}
	}

	if err := p.Source.Open(ctx, mailbox, p.Log); err != nil {
		return Result{}, err
	}

	start := clock.Now()
	p.setSession(&Session{
		Mailbox:  mailbox,
		Start:    start,
		Deadline: start.Add(opts.MaxWait),
		Interval: opts.Interval,
	})
	defer p.setSession(nil)
	logger.Info("polling %s for up to %s every %s", mailbox, opts.MaxWait, opts.Interval)

	refreshes := 0
	res, err := retry.Until(ctx, clock, opts.Interval, opts.MaxWait, func(ctx context.Context, attempt int) (bool, error) {
		found, err := p.Source.Await(ctx, opts.Interval)
		if err != nil {
			return false, err
		}
		if found {
			p.Log.Pass(MsgSelected)
			return true, nil
		}

		if err := p.Source.Refresh(ctx); err != nil {
			if !errors.Is(err, core.ErrControlNotFound) {
				return false, err
			}
			logger.Debug("attempt %d: refresh control missing: %v", attempt, err)
		}
		refreshes++
		p.Log.Info(MsgRefreshed)
		return false, nil
	})

	result := Result{
		Found:     res.Found,
		Attempts:  res.Attempts,
		Refreshes: refreshes,
		Elapsed:   res.Elapsed,
	}
	if err != nil {
		return result, err
	}
	if !res.Found {
		result.TimedOut = true
		p.Log.Fail("No email received within %s", opts.MaxWait)
		logger.Warn("no message for %s after %d attempts", mailbox, res.Attempts)
	}
	return result, nil
}

// Body returns the selected message text.
func (p *Poller) Body(ctx context.Context) (string, error) {
	return p.Source.Body(ctx)
}

// Close releases the source.
func (p *Poller) Close() error {
	if p.Source == nil {
		return nil
	}
	return p.Source.Close()
}

// Session returns the active session, or nil between polls.
func (p *Poller) Session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

func (p *Poller) setSession(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}
