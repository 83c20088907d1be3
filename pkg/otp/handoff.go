package otp

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// Default waits for the desktop verification window.
const (
	DefaultWindowTimeout  = 30 * time.Second
	DefaultControlTimeout = 10 * time.Second
)

// Handoff delivers a code into another window and confirms it.
type Handoff struct {
	Backend core.Backend
	Log     *report.StepLog

	// WindowTitle is a regular expression matched against window titles
	// (or app contexts). Empty keeps the current window.
	WindowTitle string
	Input       flow.Selector
	// Submit is clicked after the code is entered. Nil skips confirmation.
	Submit *flow.Selector
	// Paste delivers the code through the clipboard instead of typing it.
	Paste bool
	// AcceptAlert accepts a dialog raised after submitting, if the backend
	// supports alerts. Missing alerts are ignored.
	AcceptAlert bool

	WindowTimeout  time.Duration
	ControlTimeout time.Duration
}

// Deliver focuses the target window, enters code and submits it. On any
// failure a FAIL entry is logged before the error is returned. The code is
// consumed even when delivery fails.
func (h *Handoff) Deliver(ctx context.Context, code Code) error {
	value, ok := code.Take()
	if !ok {
		h.Log.Fail("OTP not found")
		return core.ErrExtractionMiss.WithMessage("OTP not found: no unused code to deliver")
	}
	if h.Input.IsEmpty() {
		return core.ErrMissingRequired.WithMessage("handoff input selector is required")
	}

	if h.WindowTitle != "" {
		pattern, err := regexp.Compile(h.WindowTitle)
		if err != nil {
			h.Log.Fail("Invalid window pattern %q", h.WindowTitle)
			return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("invalid window pattern %q", h.WindowTitle)).WithCause(err)
		}
		title, err := h.Backend.FocusWindow(ctx, pattern, h.windowTimeout())
		if err != nil {
			h.Log.Fail("Window %q not found", h.WindowTitle)
			return err
		}
		h.Log.Pass("Focused window %q", title)
	}

	input, err := h.Backend.WaitFor(ctx, h.Input, core.StateReady, h.controlTimeout())
	if err != nil {
		h.Log.Fail("OTP input %s not ready", h.Input.Describe())
		return err
	}
	if h.Paste {
		if err := h.Backend.PasteText(ctx, input, value); err != nil {
			h.Log.Fail("Could not paste OTP")
			return err
		}
		h.Log.Pass("OTP pasted")
	} else {
		if err := h.Backend.Clear(ctx, input); err != nil {
			logger.Debug("clear otp input: %v", err)
		}
		if err := h.Backend.TypeText(ctx, input, value); err != nil {
			h.Log.Fail("Could not type OTP")
			return err
		}
		h.Log.Pass("OTP entered")
	}

	if h.Submit != nil && !h.Submit.IsEmpty() {
		btn, err := h.Backend.WaitFor(ctx, *h.Submit, core.StateReady, h.controlTimeout())
		if err != nil {
			h.Log.Fail("Submit control %s not ready", h.Submit.Describe())
			return err
		}
		if err := h.Backend.Click(ctx, btn); err != nil {
			h.Log.Fail("Could not click %s", h.Submit.Describe())
			return err
		}
		h.Log.Pass("Clicked %s", h.Submit.Describe())
	}

	if h.AcceptAlert {
		h.acceptAlert(ctx)
	}
	return nil
}

func (h *Handoff) acceptAlert(ctx context.Context) {
	aa, ok := h.Backend.(core.AlertAccepter)
	if !ok {
		logger.Debug("backend %T cannot accept alerts", h.Backend)
		return
	}
	if err := aa.AcceptAlert(ctx); err != nil {
		logger.Debug("no alert to accept: %v", err)
		return
	}
	h.Log.Pass("Accepted browser alert")
}

func (h *Handoff) windowTimeout() time.Duration {
	if h.WindowTimeout > 0 {
		return h.WindowTimeout
	}
	return DefaultWindowTimeout
}

func (h *Handoff) controlTimeout() time.Duration {
	if h.ControlTimeout > 0 {
		return h.ControlTimeout
	}
	return DefaultControlTimeout
}
