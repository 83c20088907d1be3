// Package mock provides a scripted backend for running scenarios without a device.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

// Config configures mock backend behavior.
type Config struct {
	// Platform info to report
	Platform string
	DeviceID string

	// Clock drives WaitFor and FocusWindow polling. Defaults to the wall clock.
	Clock retry.Clock
	// Interval between polling attempts. Defaults to core.DefaultWaitInterval.
	Interval time.Duration

	// FailScreenshot makes Screenshot return an error
	FailScreenshot bool
}

// Control is a scripted UI control.
type Control struct {
	Ref   string
	ID    string
	Desc  string
	Kind  string
	Text  string // Label matched by selector text patterns
	XPath string
	CSS   string

	// Window restricts the control to the window with this title.
	Window string
	// AppearAfter is how many matching lookups miss before the control
	// shows up. Negative means never.
	AppearAfter int

	Hidden    bool // Not in the tree until Show
	Invisible bool
	Disabled  bool

	// OnClick runs after the control is clicked.
	OnClick func(b *Backend)

	// Value holds typed text. Text() returns it in preference to the label.
	Value string

	lookups int
}

// Window is a scripted top-level window or app context.
type Window struct {
	Title string
	// AppearAfter is how many focus attempts miss before the window shows
	// up. Negative means never.
	AppearAfter int

	attempts int
}

// Action is one recorded backend call.
type Action struct {
	Kind   string // click, clear, type, paste, focus, navigate, back, key, longPress, launch, alert
	Target string // control ref, window title, url, key or app id
	Text   string
}

// Backend is a scripted implementation of core.Backend.
type Backend struct {
	mu        sync.Mutex
	cfg       Config
	controls  []*Control
	windows   []*Window
	focused   string
	url       string
	clipboard string
	actions   []Action
	closed    bool
}

var _ core.Backend = (*Backend)(nil)
var _ core.AlertAccepter = (*Backend)(nil)

// New creates a mock backend.
func New(cfg Config) *Backend {
	if cfg.Platform == "" {
		cfg.Platform = "mock"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	if cfg.Clock == nil {
		cfg.Clock = retry.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = core.DefaultWaitInterval
	}
	return &Backend{cfg: cfg}
}

// AddControl scripts a control. An empty Ref is assigned one.
func (b *Backend) AddControl(c *Control) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.Ref == "" {
		c.Ref = fmt.Sprintf("ctl-%d", len(b.controls)+1)
	}
	b.controls = append(b.controls, c)
	return b
}

// AddWindow scripts a window that becomes focusable after appearAfter
// attempts (negative: never).
func (b *Backend) AddWindow(title string, appearAfter int) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows = append(b.windows, &Window{Title: title, AppearAfter: appearAfter})
	return b
}

// Show puts a hidden control into the tree.
func (b *Backend) Show(ref string) {
	b.setHidden(ref, false)
}

// Hide removes a control from the tree.
func (b *Backend) Hide(ref string) {
	b.setHidden(ref, true)
}

func (b *Backend) setHidden(ref string, hidden bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.byRef(ref); c != nil {
		c.Hidden = hidden
	}
}

// Locate makes one lookup attempt.
func (b *Backend) Locate(ctx context.Context, sel flow.Selector) (*core.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var matches []*Control
	for _, c := range b.controls {
		if !b.matches(c, sel) {
			continue
		}
		c.lookups++
		if c.Hidden || c.AppearAfter < 0 || c.lookups <= c.AppearAfter {
			continue
		}
		matches = append(matches, c)
	}
	if sel.Index >= len(matches) {
		return nil, core.ErrControlNotFound.WithMessage("no control matches " + sel.Describe())
	}
	c := matches[sel.Index]
	return &core.Control{
		Ref:      c.Ref,
		Selector: sel,
		Text:     c.Text,
		Kind:     c.Kind,
		Bounds:   core.Bounds{X: 100, Y: 200, Width: 200, Height: 50},
		Visible:  !c.Invisible,
		Enabled:  !c.Disabled,
	}, nil
}

func (b *Backend) matches(c *Control, sel flow.Selector) bool {
	if sel.IsEmpty() {
		return false
	}
	if c.Window != "" && c.Window != b.focused {
		return false
	}
	if sel.ID != "" && sel.ID != c.ID {
		return false
	}
	if sel.Desc != "" && sel.Desc != c.Desc {
		return false
	}
	if sel.Kind != "" && sel.Kind != c.Kind {
		return false
	}
	if sel.XPath != "" && sel.XPath != c.XPath {
		return false
	}
	if sel.CSS != "" && sel.CSS != c.CSS {
		return false
	}
	return sel.MatchText(c.Text)
}

// WaitFor polls Locate on the configured clock.
func (b *Backend) WaitFor(ctx context.Context, sel flow.Selector, state core.ControlState, timeout time.Duration) (*core.Control, error) {
	return core.WaitForControl(ctx, b.cfg.Clock, b, sel, state, timeout, b.cfg.Interval)
}

// Click clicks a control and runs its OnClick hook.
func (b *Backend) Click(ctx context.Context, c *core.Control) error {
	b.mu.Lock()
	ctl, err := b.interactive(c)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.record("click", ctl.Ref, "")
	hook := ctl.OnClick
	b.mu.Unlock()

	if hook != nil {
		hook(b)
	}
	return nil
}

// Clear empties a control's value.
func (b *Backend) Clear(ctx context.Context, c *core.Control) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctl, err := b.interactive(c)
	if err != nil {
		return err
	}
	ctl.Value = ""
	b.record("clear", ctl.Ref, "")
	return nil
}

// TypeText appends text to a control's value.
func (b *Backend) TypeText(ctx context.Context, c *core.Control, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctl, err := b.interactive(c)
	if err != nil {
		return err
	}
	ctl.Value += text
	b.record("type", ctl.Ref, text)
	return nil
}

// PasteText sets the clipboard and appends it to a control's value.
func (b *Backend) PasteText(ctx context.Context, c *core.Control, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctl, err := b.interactive(c)
	if err != nil {
		return err
	}
	b.clipboard = text
	ctl.Value += text
	b.record("paste", ctl.Ref, text)
	return nil
}

// Text returns the control's value, or its label when nothing was typed.
func (b *Backend) Text(ctx context.Context, c *core.Control) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctl := b.byRef(c.Ref)
	if ctl == nil {
		return "", core.ErrControlNotFound.WithMessage("stale control " + c.Ref)
	}
	if ctl.Value != "" {
		return ctl.Value, nil
	}
	return ctl.Text, nil
}

// FocusWindow polls the scripted windows for a title matching pattern.
func (b *Backend) FocusWindow(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.cfg.Interval
	}
	var title string
	res, err := retry.Until(ctx, b.cfg.Clock, b.cfg.Interval, timeout, func(ctx context.Context, _ int) (bool, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, w := range b.windows {
			w.attempts++
			if w.AppearAfter < 0 || w.attempts <= w.AppearAfter {
				continue
			}
			if pattern.MatchString(w.Title) {
				title = w.Title
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", core.ErrWindowNotFound.
			WithMessage(fmt.Sprintf("no window matching %q within %s", pattern.String(), timeout)).
			WithDetails(map[string]interface{}{"pattern": pattern.String(), "timeout": timeout.String()})
	}

	b.mu.Lock()
	b.focused = title
	b.record("focus", title, "")
	b.mu.Unlock()
	return title, nil
}

// Navigate records the URL.
func (b *Backend) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = url
	b.record("navigate", url, "")
	return nil
}

// Back records a back navigation.
func (b *Backend) Back(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("back", "", "")
	return nil
}

// PressKey records a key press.
func (b *Backend) PressKey(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("key", key, "")
	return nil
}

// LongPress records a long press at x, y.
func (b *Backend) LongPress(ctx context.Context, x, y int, d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("longPress", fmt.Sprintf("%d,%d", x, y), d.String())
	return nil
}

// LaunchApp records an app launch.
func (b *Backend) LaunchApp(ctx context.Context, appID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("launch", appID, "")
	return nil
}

// AcceptAlert records an alert acceptance.
func (b *Backend) AcceptAlert(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("alert", "", "")
	return nil
}

// Screenshot returns a mock PNG image.
func (b *Backend) Screenshot(ctx context.Context) ([]byte, error) {
	if b.cfg.FailScreenshot {
		return nil, fmt.Errorf("mock screenshot failure")
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// PlatformInfo returns mock platform info.
func (b *Backend) PlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:   b.cfg.Platform,
		Backend:    "mock",
		DeviceID:   b.cfg.DeviceID,
		DeviceName: "Mock Device",
		OSVersion:  "1.0",
	}
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Actions returns every recorded call, in order.
func (b *Backend) Actions() []Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Action, len(b.actions))
	copy(out, b.actions)
	return out
}

// ActionsOf returns the recorded calls of one kind.
func (b *Backend) ActionsOf(kind string) []Action {
	var out []Action
	for _, a := range b.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Value returns the typed value of a control.
func (b *Backend) Value(ref string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.byRef(ref); c != nil {
		return c.Value
	}
	return ""
}

// Focused returns the title of the focused window.
func (b *Backend) Focused() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focused
}

// URL returns the last navigated URL.
func (b *Backend) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// Clipboard returns the last pasted text.
func (b *Backend) Clipboard() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clipboard
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) byRef(ref string) *Control {
	for _, c := range b.controls {
		if c.Ref == ref {
			return c
		}
	}
	return nil
}

func (b *Backend) interactive(c *core.Control) (*Control, error) {
	ctl := b.byRef(c.Ref)
	if ctl == nil || ctl.Hidden {
		return nil, core.ErrControlNotFound.WithMessage("stale control " + c.Ref)
	}
	if ctl.Disabled || ctl.Invisible {
		return nil, core.ErrControlNotInteractive.WithMessage("control " + c.Ref + " is not interactive")
	}
	return ctl, nil
}

func (b *Backend) record(kind, target, text string) {
	b.actions = append(b.actions, Action{Kind: kind, Target: target, Text: text})
}
