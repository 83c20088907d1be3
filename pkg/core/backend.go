package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

// Backend is the automation surface every step runs against.
// Implementations: Appium (mobile, Windows desktop), Chrome (web), mock.
// The runner handles scenario logic; a Backend only manipulates controls.
type Backend interface {
	// Locate makes a single attempt to find a control. It returns
	// ErrControlNotFound when nothing matches.
	Locate(ctx context.Context, sel flow.Selector) (*Control, error)

	// WaitFor polls until the control reaches state or timeout elapses.
	WaitFor(ctx context.Context, sel flow.Selector, state ControlState, timeout time.Duration) (*Control, error)

	Click(ctx context.Context, c *Control) error
	Clear(ctx context.Context, c *Control) error
	TypeText(ctx context.Context, c *Control, text string) error
	// PasteText places text on the clipboard and pastes it into c, for
	// environments where direct typing is unreliable.
	PasteText(ctx context.Context, c *Control, text string) error
	Text(ctx context.Context, c *Control) (string, error)

	// FocusWindow waits up to timeout for a window (or app context) whose
	// title matches pattern and brings it to the foreground. Returns the title.
	FocusWindow(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error)

	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	PressKey(ctx context.Context, key string) error
	LongPress(ctx context.Context, x, y int, d time.Duration) error
	LaunchApp(ctx context.Context, appID string) error
	Screenshot(ctx context.Context) ([]byte, error)

	PlatformInfo() *PlatformInfo
	Close() error
}

// AlertAccepter is implemented by backends that can dismiss a native
// alert or JavaScript dialog by accepting it.
type AlertAccepter interface {
	AcceptAlert(ctx context.Context) error
}

// Control is a located UI element.
type Control struct {
	Ref      string        `json:"ref"` // Backend handle: WebDriver element id, node id, ...
	Selector flow.Selector `json:"-"`
	Text     string        `json:"text,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Bounds   Bounds        `json:"bounds"`
	Visible  bool          `json:"visible"`
	Enabled  bool          `json:"enabled"`
}

// Satisfies reports whether the control is in at least the given state.
func (c *Control) Satisfies(state ControlState) bool {
	if c == nil {
		return false
	}
	switch state {
	case StateExists:
		return true
	case StateVisible:
		return c.Visible
	case StateEnabled:
		return c.Enabled
	case StateReady:
		return c.Visible && c.Enabled
	default:
		return false
	}
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// ControlState is a condition a control can be waited on.
type ControlState int

const (
	StateExists  ControlState = iota // Present in the tree
	StateVisible                     // Displayed
	StateEnabled                     // Accepts input
	StateReady                       // Visible and enabled
)

// String returns the string representation of ControlState
func (s ControlState) String() string {
	switch s {
	case StateExists:
		return "exists"
	case StateVisible:
		return "visible"
	case StateEnabled:
		return "enabled"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// PlatformInfo contains backend and platform details
type PlatformInfo struct {
	Platform   string `json:"platform"`             // android, ios, windows, web, mock
	Backend    string `json:"backend"`              // appium, chrome, mock
	OSVersion  string `json:"osVersion,omitempty"`  // e.g. "16"
	DeviceName string `json:"deviceName,omitempty"` // e.g. "Android Emulator"
	DeviceID   string `json:"deviceId,omitempty"`   // udid
	AppID      string `json:"appId,omitempty"`      // package / bundle id / app path
}

// Locator is the single-attempt lookup that WaitForControl polls.
type Locator interface {
	Locate(ctx context.Context, sel flow.Selector) (*Control, error)
}

// DefaultWaitInterval is how often WaitForControl re-checks a control.
const DefaultWaitInterval = 200 * time.Millisecond

// WaitForControl polls l until a control matching sel reaches state.
// It tries each of the selector's alternatives on every attempt.
//
// Returns ErrControlNotFound when nothing matched before timeout, and
// ErrControlNotInteractive when a control was found but never reached state.
func WaitForControl(ctx context.Context, clock retry.Clock, l Locator, sel flow.Selector, state ControlState, timeout, interval time.Duration) (*Control, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	if timeout <= 0 {
		timeout = interval
	}

	var (
		found   *Control
		lastErr error
	)
	res, err := retry.Until(ctx, clock, interval, timeout, func(ctx context.Context, _ int) (bool, error) {
		for _, alt := range sel.Alternatives() {
			c, err := l.Locate(ctx, alt)
			if err != nil {
				if !errors.Is(err, ErrControlNotFound) {
					lastErr = err
				}
				continue
			}
			found = c
			if c.Satisfies(state) {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Found {
		return found, nil
	}

	details := map[string]interface{}{
		"selector": sel.Describe(),
		"state":    state.String(),
		"timeout":  timeout.String(),
	}
	if found != nil {
		return nil, ErrControlNotInteractive.
			WithMessage(fmt.Sprintf("control %s not %s within %s", sel.Describe(), state, timeout)).
			WithDetails(details)
	}
	nf := ErrControlNotFound.
		WithMessage(fmt.Sprintf("control %s not found within %s", sel.Describe(), timeout)).
		WithDetails(details)
	if lastErr != nil {
		return nil, nf.WithCause(lastErr)
	}
	return nil, nf
}
