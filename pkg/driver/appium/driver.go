package appium

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

// Config describes the session to create.
type Config struct {
	ServerURL    string
	Capabilities map[string]interface{}

	Clock    retry.Clock   // Defaults to the wall clock
	Interval time.Duration // Poll interval for waits; defaults to core.DefaultWaitInterval
}

// Driver implements core.Backend over a WebDriver session.
type Driver struct {
	client   *Client
	clock    retry.Clock
	interval time.Duration
	appID    string
}

// NewDriver connects to the server and creates a session.
func NewDriver(ctx context.Context, cfg Config) (*Driver, error) {
	client := NewClient(cfg.ServerURL)
	if err := client.Connect(ctx, cfg.Capabilities); err != nil {
		return nil, err
	}

	d := &Driver{client: client, clock: cfg.Clock, interval: cfg.Interval}
	if d.clock == nil {
		d.clock = retry.RealClock{}
	}
	if d.interval <= 0 {
		d.interval = core.DefaultWaitInterval
	}
	for _, key := range []string{"appium:appPackage", "appium:bundleId", "appium:app"} {
		if appID, ok := cfg.Capabilities[key].(string); ok && appID != "" {
			d.appID = appID
			break
		}
	}
	return d, nil
}

// Close ends the session.
func (d *Driver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// Locate makes one lookup attempt with the platform's native strategy.
func (d *Driver) Locate(ctx context.Context, sel flow.Selector) (*core.Control, error) {
	q, err := buildQuery(d.client.Platform(), sel)
	if err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(err.Error())
	}

	ids, err := d.client.FindElements(ctx, q.using, q.value)
	if err != nil {
		return nil, err
	}
	if q.filterText {
		ids, err = d.filterByText(ctx, ids, sel)
		if err != nil {
			return nil, err
		}
	}
	if sel.Index >= len(ids) {
		return nil, core.ErrControlNotFound.WithMessage("no control matches " + sel.Describe())
	}
	return d.describe(ctx, ids[sel.Index], sel)
}

func (d *Driver) filterByText(ctx context.Context, ids []string, sel flow.Selector) ([]string, error) {
	var out []string
	for _, id := range ids {
		text, err := d.elementText(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrControlNotFound) {
				continue
			}
			return nil, err
		}
		if sel.MatchText(text) {
			out = append(out, id)
		}
	}
	return out, nil
}

// elementText prefers visible text and falls back to the accessible name.
func (d *Driver) elementText(ctx context.Context, id string) (string, error) {
	text, err := d.client.ElementText(ctx, id)
	if err != nil || text != "" {
		return text, err
	}
	name, err := d.client.ElementAttribute(ctx, id, "Name")
	if err != nil {
		return "", nil
	}
	return name, nil
}

func (d *Driver) describe(ctx context.Context, id string, sel flow.Selector) (*core.Control, error) {
	c := &core.Control{Ref: id, Selector: sel}
	var err error
	if c.Visible, err = d.client.IsElementDisplayed(ctx, id); err != nil {
		return nil, err
	}
	if c.Enabled, err = d.client.IsElementEnabled(ctx, id); err != nil {
		return nil, err
	}
	if c.Bounds, err = d.client.ElementRect(ctx, id); err != nil {
		logger.Debug("rect of %s: %v", id, err)
	}
	c.Text, _ = d.client.ElementText(ctx, id)
	return c, nil
}

// WaitFor polls Locate until the control reaches state.
func (d *Driver) WaitFor(ctx context.Context, sel flow.Selector, state core.ControlState, timeout time.Duration) (*core.Control, error) {
	return core.WaitForControl(ctx, d.clock, d, sel, state, timeout, d.interval)
}

// Click clicks the control.
func (d *Driver) Click(ctx context.Context, c *core.Control) error {
	return d.client.ClickElement(ctx, c.Ref)
}

// Clear empties a text control.
func (d *Driver) Clear(ctx context.Context, c *core.Control) error {
	return d.client.ClearElement(ctx, c.Ref)
}

// TypeText types text into the control.
func (d *Driver) TypeText(ctx context.Context, c *core.Control, text string) error {
	return d.client.SendKeysToElement(ctx, c.Ref, text)
}

// PasteText puts text on the device clipboard, focuses the control and
// sends the platform paste shortcut.
func (d *Driver) PasteText(ctx context.Context, c *core.Control, text string) error {
	if err := d.client.SetClipboard(ctx, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	if err := d.client.ClickElement(ctx, c.Ref); err != nil {
		return err
	}
	switch d.client.Platform() {
	case "android":
		return d.client.PressKeyCode(ctx, androidKeycodePaste)
	case "ios":
		return d.client.KeyChord(ctx, keyMeta, "v")
	default:
		return d.client.KeyChord(ctx, keyControl, "v")
	}
}

// Text returns the control's text.
func (d *Driver) Text(ctx context.Context, c *core.Control) (string, error) {
	return d.elementText(ctx, c.Ref)
}

// FocusWindow looks for a matching window title on desktop sessions, or a
// matching app context (NATIVE_APP, WEBVIEW_*) on mobile ones.
func (d *Driver) FocusWindow(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = d.interval
	}
	var title string
	res, err := retry.Until(ctx, d.clock, d.interval, timeout, func(ctx context.Context, attempt int) (bool, error) {
		var (
			t   string
			err error
		)
		if d.isMobile() {
			t, err = d.focusContext(ctx, pattern)
		} else {
			t, err = d.focusWindowHandle(ctx, pattern)
		}
		if err != nil {
			if errors.Is(err, core.ErrServerUnreachable) {
				return false, err
			}
			logger.Debug("focus attempt %d: %v", attempt, err)
			return false, nil
		}
		title = t
		return t != "", nil
	})
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", core.ErrWindowNotFound.
			WithMessage(fmt.Sprintf("no window matching %q within %s", pattern.String(), timeout)).
			WithDetails(map[string]interface{}{"pattern": pattern.String(), "timeout": timeout.String()})
	}
	logger.Info("focused %q", title)
	return title, nil
}

func (d *Driver) focusContext(ctx context.Context, pattern *regexp.Regexp) (string, error) {
	names, err := d.client.Contexts(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if pattern.MatchString(name) {
			return name, d.client.SetContext(ctx, name)
		}
	}
	return "", nil
}

func (d *Driver) focusWindowHandle(ctx context.Context, pattern *regexp.Regexp) (string, error) {
	handles, err := d.client.WindowHandles(ctx)
	if err != nil {
		return "", err
	}
	start, err := d.client.WindowHandle(ctx)
	if err != nil {
		logger.Debug("current window: %v", err)
	}
	for _, h := range handles {
		if err := d.client.SwitchToWindow(ctx, h); err != nil {
			logger.Debug("switch to window %s: %v", h, err)
			continue
		}
		title, err := d.client.Title(ctx)
		if err != nil {
			continue
		}
		if pattern.MatchString(title) {
			return title, nil
		}
	}
	if start != "" {
		if err := d.client.SwitchToWindow(ctx, start); err != nil {
			logger.Debug("switch back to window %s: %v", start, err)
		}
	}
	return "", nil
}

// Navigate opens a URL or deep link.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.client.OpenURL(ctx, url)
}

// Back navigates back.
func (d *Driver) Back(ctx context.Context) error {
	if d.client.Platform() == "android" {
		return d.client.PressKeyCode(ctx, androidKeycodes["back"])
	}
	return d.client.Back(ctx)
}

// PressKey presses a named key: enter, tab, back, home, escape, backspace,
// delete. Single characters are sent as they are.
func (d *Driver) PressKey(ctx context.Context, key string) error {
	name := strings.ToLower(key)
	if d.client.Platform() == "android" {
		if code, ok := androidKeycodes[name]; ok {
			return d.client.PressKeyCode(ctx, code)
		}
	}
	if k, ok := w3cKeys[name]; ok {
		return d.client.KeyChord(ctx, k)
	}
	if len([]rune(key)) == 1 {
		return d.client.KeyChord(ctx, key)
	}
	return core.ErrUnsupported.WithMessage("unknown key " + strconv.Quote(key))
}

// LongPress holds a touch at x, y for d.
func (d *Driver) LongPress(ctx context.Context, x, y int, dur time.Duration) error {
	return d.client.LongPress(ctx, x, y, dur)
}

// LaunchApp activates an installed app.
func (d *Driver) LaunchApp(ctx context.Context, appID string) error {
	if appID == "" {
		appID = d.appID
	}
	if appID == "" {
		return core.ErrMissingRequired.WithMessage("app id is required")
	}
	if err := d.client.ActivateApp(ctx, appID); err != nil {
		return core.ErrAppNotLaunched.WithMessage("could not launch " + appID).WithCause(err)
	}
	d.appID = appID
	return nil
}

// AcceptAlert accepts a native alert.
func (d *Driver) AcceptAlert(ctx context.Context) error {
	return d.client.AcceptAlert(ctx)
}

// Screenshot captures the screen as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.client.Screenshot(ctx)
}

// PlatformInfo describes the session.
func (d *Driver) PlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:   d.client.Platform(),
		Backend:    "appium",
		OSVersion:  d.client.Capability("platformVersion"),
		DeviceName: d.client.Capability("deviceName"),
		DeviceID:   d.client.Capability("udid"),
		AppID:      d.appID,
	}
}

func (d *Driver) isMobile() bool {
	p := d.client.Platform()
	return p == "android" || p == "ios"
}

const androidKeycodePaste = 279

var androidKeycodes = map[string]int{
	"home":      3,
	"back":      4,
	"tab":       61,
	"enter":     66,
	"backspace": 67,
	"delete":    112,
	"escape":    111,
}

// W3C WebDriver key codepoints.
const (
	keyControl = "\uE009"
	keyMeta    = "\uE03D"
)

var w3cKeys = map[string]string{
	"backspace": "\uE003",
	"tab":       "\uE004",
	"enter":     "\uE007",
	"escape":    "\uE00C",
	"delete":    "\uE017",
	"home":      "\uE011",
}
