package otp

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/inbox"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// Retrieval is the outcome of one cycle.
type Retrieval struct {
	Code Code
	Link string // First https:// link in the message, if any
	Poll inbox.Result

	// Outcome is the last state before DONE: CODE_FOUND, SUBMITTING,
	// CODE_NOT_FOUND or TIMED_OUT. It stays POLLING when polling failed.
	Outcome State
	History []State

	cycle *Cycle
}

// Retriever runs the poll, extract and handoff cycle.
type Retriever struct {
	Poller    *inbox.Poller
	Extractor *Extractor
	Log       *report.StepLog
}

// Fetch polls mailbox, extracts a code from the first new message and
// closes the cycle.
//
// A timeout returns core.ErrTimeoutExhausted. A message without a code
// logs FAIL "OTP not found" and returns core.ErrExtractionMiss. The
// Retrieval is filled in either case.
func (r *Retriever) Fetch(ctx context.Context, mailbox identity.Mailbox, opts inbox.Options) (Retrieval, error) {
	out, err := r.Start(ctx, mailbox, opts)
	out.Finish()
	return out, err
}

// Start is Fetch for a cycle that continues with a handoff. On success the
// cycle stays in CODE_FOUND until Deliver or Finish; on error it is closed.
func (r *Retriever) Start(ctx context.Context, mailbox identity.Mailbox, opts inbox.Options) (Retrieval, error) {
	out := Retrieval{cycle: NewCycle()}
	err := r.fetch(ctx, &out, mailbox, opts)
	out.sync()
	if err != nil {
		out.Finish()
	}
	return out, err
}

// Deliver hands the code to h through SUBMITTING and closes the cycle. The
// code is consumed even when delivery fails.
func (out *Retrieval) Deliver(ctx context.Context, h *Handoff) error {
	if out.cycle != nil {
		if err := out.cycle.Advance(StateSubmitting); err != nil {
			logger.Debug("handoff outside the otp cycle: %v", err)
		}
	}
	err := h.Deliver(ctx, out.Code)
	out.Finish()
	return err
}

// Finish closes the cycle. It does nothing once the cycle is done.
func (out *Retrieval) Finish() {
	if out.cycle == nil || out.cycle.Done() {
		return
	}
	out.sync()
	if err := out.cycle.Advance(StateDone); err != nil {
		logger.Debug("otp cycle left in %s: %v", out.Outcome, err)
	}
	out.History = out.cycle.History()
}

// Open reports whether the cycle is waiting for a handoff.
func (out *Retrieval) Open() bool {
	return out.cycle != nil && out.cycle.State() == StateCodeFound
}

func (out *Retrieval) sync() {
	out.Outcome = out.cycle.State()
	out.History = out.cycle.History()
}

func (r *Retriever) fetch(ctx context.Context, out *Retrieval, mailbox identity.Mailbox, opts inbox.Options) error {
	cycle := out.cycle
	_ = cycle.Advance(StatePolling)

	res, err := r.Poller.Poll(ctx, mailbox, opts)
	out.Poll = res
	if err != nil {
		return err
	}
	if res.TimedOut {
		_ = cycle.Advance(StateTimedOut)
		return core.ErrTimeoutExhausted.WithMessage(fmt.Sprintf("OTP not found: no message for %s within %s", mailbox, opts.MaxWait))
	}
	_ = cycle.Advance(StateFound)
	_ = cycle.Advance(StateExtracting)

	body, err := r.Poller.Body(ctx)
	if err != nil {
		_ = cycle.Advance(StateCodeNotFound)
		return core.ErrExtractionMiss.WithMessage("OTP not found: message body unavailable").WithCause(err)
	}
	out.Link, _ = ExtractLink(body)

	code, ok := r.Extractor.Extract(body)
	if !ok {
		_ = cycle.Advance(StateCodeNotFound)
		r.Log.Fail("OTP not found")
		return core.ErrExtractionMiss.WithMessage("OTP not found in message")
	}
	_ = cycle.Advance(StateCodeFound)
	out.Code = code
	r.Log.Pass("Extracted OTP: %s", code.Value())
	if out.Link != "" {
		r.Log.Info("Found verification link")
	}
	return nil
}
