// Package browser implements core.Backend on Chrome through the DevTools
// protocol, for webmail inboxes and web login forms.
package browser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

// Config controls the Chrome instance.
type Config struct {
	Headless    bool
	ExecPath    string
	UserDataDir string
	WindowW     int
	WindowH     int

	Clock    retry.Clock
	Interval time.Duration
}

// Driver drives one Chrome browser. The current tab changes on FocusWindow.
type Driver struct {
	clock    retry.Clock
	interval time.Duration

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	tabCtx    context.Context
	tabCancel context.CancelFunc
	nodes     map[string]*cdp.Node
	url       string
}

// New starts Chrome and opens a blank tab.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.WindowW > 0 && cfg.WindowH > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowW, cfg.WindowH))
	} else {
		opts = append(opts, chromedp.WindowSize(1280, 900))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		logger.Debug("chrome: "+format, args...)
	}))

	// The first Run starts the browser; its context must outlive this call.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, core.ErrAppNotLaunched.WithMessage("could not start chrome").WithCause(err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	d := &Driver{
		clock:         cfg.Clock,
		interval:      cfg.Interval,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabCtx:        browserCtx,
		nodes:         map[string]*cdp.Node{},
	}
	if d.clock == nil {
		d.clock = retry.RealClock{}
	}
	if d.interval <= 0 {
		d.interval = core.DefaultWaitInterval
	}
	logger.Info("chrome started (headless=%v)", cfg.Headless)
	return d, nil
}

// run executes actions on the current tab, stopping early if ctx is done.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	tab := d.tabCtx
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Locate makes one DOM query without waiting.
func (d *Driver) Locate(ctx context.Context, sel flow.Selector) (*core.Control, error) {
	q, err := buildQuery(sel)
	if err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(err.Error())
	}

	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(q.expr, &nodes, q.by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}

	var matched []*cdp.Node
	for _, n := range nodes {
		if sel.Text == "" {
			matched = append(matched, n)
			continue
		}
		text, err := d.nodeText(ctx, n)
		if err != nil {
			continue
		}
		if sel.MatchText(text) {
			matched = append(matched, n)
		}
	}
	if sel.Index >= len(matched) {
		return nil, core.ErrControlNotFound.WithMessage("no control matches " + sel.Describe())
	}
	return d.control(ctx, matched[sel.Index], sel)
}

func (d *Driver) control(ctx context.Context, n *cdp.Node, sel flow.Selector) (*core.Control, error) {
	ref := strconv.FormatInt(int64(n.NodeID), 10)
	d.mu.Lock()
	d.nodes[ref] = n
	d.mu.Unlock()

	c := &core.Control{
		Ref:      ref,
		Selector: sel,
		Kind:     n.LocalName,
		Enabled:  isEnabled(n),
	}
	c.Text, _ = d.nodeText(ctx, n)

	var box *dom.BoxModel
	if err := d.run(ctx, chromedp.Dimensions([]cdp.NodeID{n.NodeID}, &box, chromedp.ByNodeID)); err == nil && box != nil {
		c.Bounds = boundsOf(box)
		c.Visible = c.Bounds.Width > 0 && c.Bounds.Height > 0
	}
	return c, nil
}

func isEnabled(n *cdp.Node) bool {
	if _, disabled := n.Attribute("disabled"); disabled {
		return false
	}
	return n.AttributeValue("aria-disabled") != "true"
}

func boundsOf(box *dom.BoxModel) core.Bounds {
	q := box.Border
	if len(q) < 8 {
		return core.Bounds{Width: int(box.Width), Height: int(box.Height)}
	}
	return core.Bounds{X: int(q[0]), Y: int(q[1]), Width: int(q[2] - q[0]), Height: int(q[5] - q[1])}
}

// nodeText returns an input's value, or the rendered text of any other node.
func (d *Driver) nodeText(ctx context.Context, n *cdp.Node) (string, error) {
	ids := []cdp.NodeID{n.NodeID}
	var text string
	switch n.LocalName {
	case "input", "textarea", "select":
		err := d.run(ctx, chromedp.Value(ids, &text, chromedp.ByNodeID))
		return text, err
	default:
		err := d.run(ctx, chromedp.Text(ids, &text, chromedp.ByNodeID))
		return text, err
	}
}

func (d *Driver) node(c *core.Control) (*cdp.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[c.Ref]
	if !ok {
		return nil, core.ErrControlNotFound.WithMessage("stale control " + c.Ref)
	}
	return n, nil
}

func (d *Driver) ids(c *core.Control) ([]cdp.NodeID, error) {
	n, err := d.node(c)
	if err != nil {
		return nil, err
	}
	return []cdp.NodeID{n.NodeID}, nil
}

// WaitFor polls Locate until the control reaches state.
func (d *Driver) WaitFor(ctx context.Context, sel flow.Selector, state core.ControlState, timeout time.Duration) (*core.Control, error) {
	return core.WaitForControl(ctx, d.clock, d, sel, state, timeout, d.interval)
}

// Click clicks the control's center.
func (d *Driver) Click(ctx context.Context, c *core.Control) error {
	ids, err := d.ids(c)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.Click(ids, chromedp.ByNodeID))
}

// Clear empties an input.
func (d *Driver) Clear(ctx context.Context, c *core.Control) error {
	ids, err := d.ids(c)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.Clear(ids, chromedp.ByNodeID))
}

// TypeText sends key events for text to the control.
func (d *Driver) TypeText(ctx context.Context, c *core.Control, text string) error {
	ids, err := d.ids(c)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.SendKeys(ids, text, chromedp.ByNodeID))
}

// PasteText focuses the control and inserts text in one input event, the
// way a clipboard paste arrives.
func (d *Driver) PasteText(ctx context.Context, c *core.Control, text string) error {
	ids, err := d.ids(c)
	if err != nil {
		return err
	}
	return d.run(ctx,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
	)
}

// Text returns the control's value or rendered text.
func (d *Driver) Text(ctx context.Context, c *core.Control) (string, error) {
	n, err := d.node(c)
	if err != nil {
		return "", err
	}
	return d.nodeText(ctx, n)
}

// FocusWindow switches to the first page tab whose title matches pattern.
func (d *Driver) FocusWindow(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = d.interval
	}
	var found *target.Info
	res, err := retry.Until(ctx, d.clock, d.interval, timeout, func(ctx context.Context, attempt int) (bool, error) {
		infos, err := chromedp.Targets(d.browserCtx)
		if err != nil {
			logger.Debug("list targets (attempt %d): %v", attempt, err)
			return false, nil
		}
		for _, info := range infos {
			if info.Type == "page" && pattern.MatchString(info.Title) {
				found = info
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
			WithMessage(fmt.Sprintf("no tab matching %q within %s", pattern.String(), timeout)).
			WithDetails(map[string]interface{}{"pattern": pattern.String(), "timeout": timeout.String()})
	}

	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(found.TargetID))
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.ActivateTarget(found.TargetID).Do(ctx)
	})); err != nil {
		tabCancel()
		return "", fmt.Errorf("activate tab %q: %w", found.Title, err)
	}

	d.mu.Lock()
	old := d.tabCancel
	d.tabCtx, d.tabCancel = tabCtx, tabCancel
	d.nodes = map[string]*cdp.Node{}
	d.mu.Unlock()
	if old != nil {
		// Detaches from the previous tab without closing it.
		old()
	}
	return found.Title, nil
}

// Navigate loads url in the current tab.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	d.mu.Lock()
	d.url = url
	d.nodes = map[string]*cdp.Node{}
	d.mu.Unlock()
	return nil
}

// Back goes back in history.
func (d *Driver) Back(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateBack())
}

// PressKey sends a named key (enter, tab, escape, ...) or a single character.
func (d *Driver) PressKey(ctx context.Context, key string) error {
	k, ok := keyFor(key)
	if !ok {
		return core.ErrUnsupported.WithMessage("unknown key " + strconv.Quote(key))
	}
	return d.run(ctx, chromedp.KeyEvent(k))
}

// LongPress holds the left mouse button at x, y.
func (d *Driver) LongPress(ctx context.Context, x, y int, dur time.Duration) error {
	fx, fy := float64(x), float64(y)
	return d.run(ctx,
		chromedp.MouseEvent(input.MousePressed, fx, fy, chromedp.ButtonLeft, chromedp.ClickCount(1)),
		chromedp.Sleep(dur),
		chromedp.MouseEvent(input.MouseReleased, fx, fy, chromedp.ButtonLeft, chromedp.ClickCount(1)),
	)
}

// LaunchApp opens a web app by URL.
func (d *Driver) LaunchApp(ctx context.Context, appID string) error {
	if appID == "" {
		return core.ErrMissingRequired.WithMessage("app url is required")
	}
	if err := d.Navigate(ctx, appID); err != nil {
		return core.ErrAppNotLaunched.WithMessage("could not open " + appID).WithCause(err)
	}
	return nil
}

// AcceptAlert accepts an open JavaScript dialog.
func (d *Driver) AcceptAlert(ctx context.Context) error {
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.HandleJavaScriptDialog(true).Do(ctx)
	}))
}

// Screenshot captures the viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// PlatformInfo describes the browser backend.
func (d *Driver) PlatformInfo() *core.PlatformInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &core.PlatformInfo{
		Platform: flow.PlatformWeb,
		Backend:  "chrome",
		AppID:    d.url,
	}
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	d.mu.Lock()
	tabCancel := d.tabCancel
	d.tabCancel = nil
	d.mu.Unlock()
	if tabCancel != nil {
		tabCancel()
	}
	err := chromedp.Cancel(d.browserCtx)
	d.browserCancel()
	d.allocCancel()
	return err
}
