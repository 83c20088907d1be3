package appium

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

func newTestDriver(t *testing.T, f *fakeWebDriver) (*Driver, *retry.FakeClock) {
	t.Helper()
	srv := f.start(t)
	clock := retry.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d, err := NewDriver(context.Background(), Config{
		ServerURL:    srv.URL + "/",
		Capabilities: map[string]interface{}{"platformName": f.platform, "appium:appPackage": "com.acme"},
		Clock:        clock,
		Interval:     time.Second,
	})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d, clock
}

func TestNewDriverPlatformInfo(t *testing.T) {
	d, _ := newTestDriver(t, newFakeWebDriver("Android"))
	info := d.PlatformInfo()
	if info.Platform != "android" || info.Backend != "appium" || info.AppID != "com.acme" {
		t.Errorf("info = %+v", info)
	}
	if info.OSVersion != "14" || info.DeviceName != "Pixel 8" {
		t.Errorf("capabilities not echoed: %+v", info)
	}
}

func TestNewDriverServerDown(t *testing.T) {
	_, err := NewDriver(context.Background(), Config{ServerURL: "http://127.0.0.1:1"})
	if !errors.Is(err, core.ErrServerUnreachable) {
		t.Errorf("err = %v, want ErrServerUnreachable", err)
	}
}

func TestLocateAndroidByID(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.element("e1", &fakeElement{text: "Verify"}, "id", "verifyBtn")
	d, _ := newTestDriver(t, f)

	c, err := d.Locate(context.Background(), flow.Selector{ID: "verifyBtn"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if c.Ref != "e1" || c.Text != "Verify" || !c.Visible || !c.Enabled {
		t.Errorf("control = %+v", c)
	}
	if c.Bounds != (core.Bounds{X: 10, Y: 20, Width: 100, Height: 40}) {
		t.Errorf("bounds = %+v", c.Bounds)
	}
}

func TestLocateNotFound(t *testing.T) {
	d, _ := newTestDriver(t, newFakeWebDriver("Android"))
	_, err := d.Locate(context.Background(), flow.Selector{ID: "missing"})
	if !errors.Is(err, core.ErrControlNotFound) {
		t.Errorf("err = %v, want ErrControlNotFound", err)
	}
}

func TestLocateIndex(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.element("a", &fakeElement{}, "id", "row")
	f.element("b", &fakeElement{}, "id", "row")
	d, _ := newTestDriver(t, f)

	c, err := d.Locate(context.Background(), flow.Selector{ID: "row", Index: 1})
	if err != nil || c.Ref != "b" {
		t.Fatalf("Locate = %+v, %v", c, err)
	}
	if _, err := d.Locate(context.Background(), flow.Selector{ID: "row", Index: 2}); !errors.Is(err, core.ErrControlNotFound) {
		t.Errorf("out of range err = %v", err)
	}
}

func TestLocateWindowsFiltersText(t *testing.T) {
	f := newFakeWebDriver("Windows")
	f.element("ok", &fakeElement{name: "Verify code"}, "xpath", "//Button")
	f.element("cancel", &fakeElement{name: "Cancel"}, "xpath", "//Button")
	d, _ := newTestDriver(t, f)

	c, err := d.Locate(context.Background(), flow.Selector{Kind: "Button", Text: "Verify.*"})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if c.Ref != "ok" {
		t.Errorf("ref = %q, want ok", c.Ref)
	}
}

func TestWaitForNotInteractive(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.element("e1", &fakeElement{disabled: true}, "id", "otp")
	d, _ := newTestDriver(t, f)

	_, err := d.WaitFor(context.Background(), flow.Selector{ID: "otp"}, core.StateReady, 3*time.Second)
	if !errors.Is(err, core.ErrControlNotInteractive) {
		t.Errorf("err = %v, want ErrControlNotInteractive", err)
	}
}

func TestTypeClearAndText(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.element("e1", &fakeElement{value: "old"}, "id", "otp")
	d, _ := newTestDriver(t, f)
	ctx := context.Background()

	c, err := d.Locate(ctx, flow.Selector{ID: "otp"})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Clear(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := d.TypeText(ctx, c, "482913"); err != nil {
		t.Fatal(err)
	}
	got, err := d.Text(ctx, c)
	if err != nil || got != "482913" {
		t.Errorf("Text = %q, %v", got, err)
	}
}

func TestPasteTextAndroid(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.element("e1", &fakeElement{}, "id", "otp")
	d, _ := newTestDriver(t, f)
	ctx := context.Background()

	c, _ := d.Locate(ctx, flow.Selector{ID: "otp"})
	if err := d.PasteText(ctx, c, "1234"); err != nil {
		t.Fatalf("PasteText: %v", err)
	}
	if f.clipboard != "1234" {
		t.Errorf("clipboard = %q", f.clipboard)
	}
	calls := f.callsTo("/press_keycode")
	if len(calls) != 1 || calls[0].body["keycode"] != float64(androidKeycodePaste) {
		t.Errorf("press_keycode calls = %+v", calls)
	}
	if len(f.callsTo("/e1/click")) != 1 {
		t.Error("control should be focused before pasting")
	}
}

func TestPasteTextWindowsUsesCtrlV(t *testing.T) {
	f := newFakeWebDriver("Windows")
	f.element("e1", &fakeElement{}, "accessibility id", "otp")
	d, _ := newTestDriver(t, f)
	ctx := context.Background()

	c, err := d.Locate(ctx, flow.Selector{ID: "otp"})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.PasteText(ctx, c, "1234"); err != nil {
		t.Fatalf("PasteText: %v", err)
	}
	if len(f.callsTo("/actions")) != 1 {
		t.Errorf("expected one key action, got %+v", f.callsTo("/actions"))
	}
}

func TestClickNotInteractable(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.element("e1", &fakeElement{clickErr: "element click intercepted"}, "id", "btn")
	d, _ := newTestDriver(t, f)

	c, _ := d.Locate(context.Background(), flow.Selector{ID: "btn"})
	if err := d.Click(context.Background(), c); !errors.Is(err, core.ErrControlNotInteractive) {
		t.Errorf("err = %v, want ErrControlNotInteractive", err)
	}
}

func TestFocusWindowDesktop(t *testing.T) {
	f := newFakeWebDriver("Windows")
	f.windows = []fakeWindow{{"w1", "Mail - Inbox"}, {"w2", "Acme Login - Verify"}}
	d, _ := newTestDriver(t, f)

	title, err := d.FocusWindow(context.Background(), regexp.MustCompile("^Acme"), 5*time.Second)
	if err != nil {
		t.Fatalf("FocusWindow: %v", err)
	}
	if title != "Acme Login - Verify" || f.current != "w2" {
		t.Errorf("title = %q, current = %q", title, f.current)
	}
}

func TestFocusWindowMobileContext(t *testing.T) {
	f := newFakeWebDriver("Android")
	f.contexts = []string{"NATIVE_APP", "WEBVIEW_com.acme"}
	d, _ := newTestDriver(t, f)

	name, err := d.FocusWindow(context.Background(), regexp.MustCompile("^WEBVIEW"), time.Second)
	if err != nil {
		t.Fatalf("FocusWindow: %v", err)
	}
	if name != "WEBVIEW_com.acme" || f.context != name {
		t.Errorf("name = %q, context = %q", name, f.context)
	}
}

func TestFocusWindowTimeout(t *testing.T) {
	f := newFakeWebDriver("Windows")
	f.windows = []fakeWindow{{"w1", "Mail - Inbox"}}
	d, clock := newTestDriver(t, f)
	start := clock.Now()

	_, err := d.FocusWindow(context.Background(), regexp.MustCompile("Acme"), 4*time.Second)
	if !errors.Is(err, core.ErrWindowNotFound) {
		t.Fatalf("err = %v, want ErrWindowNotFound", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed > 5*time.Second {
		t.Errorf("elapsed %s beyond timeout", elapsed)
	}
}

func TestFocusWindowMissRestoresCurrent(t *testing.T) {
	f := newFakeWebDriver("Windows")
	f.windows = []fakeWindow{{"w1", "Mail - Inbox"}, {"w2", "Settings"}}
	f.current = "w1"
	d, _ := newTestDriver(t, f)

	if _, err := d.FocusWindow(context.Background(), regexp.MustCompile("Acme"), 2*time.Second); !errors.Is(err, core.ErrWindowNotFound) {
		t.Fatalf("err = %v, want ErrWindowNotFound", err)
	}
	if f.current != "w1" {
		t.Errorf("current = %q, want the starting window w1", f.current)
	}
}

func TestPressKey(t *testing.T) {
	f := newFakeWebDriver("Windows")
	d, _ := newTestDriver(t, f)
	ctx := context.Background()

	if err := d.PressKey(ctx, "Enter"); err != nil {
		t.Errorf("enter: %v", err)
	}
	if err := d.PressKey(ctx, "x"); err != nil {
		t.Errorf("single char: %v", err)
	}
	if err := d.PressKey(ctx, "hyperdrive"); !errors.Is(err, core.ErrUnsupported) {
		t.Errorf("unknown key err = %v", err)
	}
	if n := len(f.callsTo("/actions")); n != 2 {
		t.Errorf("actions = %d, want 2", n)
	}
}

func TestBackAndroidUsesKeycode(t *testing.T) {
	f := newFakeWebDriver("Android")
	d, _ := newTestDriver(t, f)
	if err := d.Back(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.callsTo("/press_keycode")) != 1 || len(f.callsTo("/back")) != 0 {
		t.Error("android back should press KEYCODE_BACK")
	}
}

func TestLaunchApp(t *testing.T) {
	f := newFakeWebDriver("iOS")
	d, _ := newTestDriver(t, f)

	if err := d.LaunchApp(context.Background(), "com.acme.ios"); err != nil {
		t.Fatal(err)
	}
	calls := f.callsTo("/activate_app")
	if len(calls) != 1 || calls[0].body["bundleId"] != "com.acme.ios" {
		t.Errorf("activate_app = %+v", calls)
	}
	if d.PlatformInfo().AppID != "com.acme.ios" {
		t.Error("app id not updated")
	}
}

func TestAcceptAlert(t *testing.T) {
	f := newFakeWebDriver("iOS")
	f.alert = true
	d, _ := newTestDriver(t, f)

	var aa core.AlertAccepter = d
	if err := aa.AcceptAlert(context.Background()); err != nil {
		t.Fatalf("AcceptAlert: %v", err)
	}
	if err := aa.AcceptAlert(context.Background()); err == nil {
		t.Error("second accept should fail with no alert open")
	}
}

func TestScreenshotAndClose(t *testing.T) {
	f := newFakeWebDriver("Android")
	d, _ := newTestDriver(t, f)

	png, err := d.Screenshot(context.Background())
	if err != nil || string(png) != "png" {
		t.Errorf("Screenshot = %q, %v", png, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	deletes := 0
	for _, c := range f.callsTo("/session/s1") {
		if c.method == "DELETE" {
			deletes++
		}
	}
	if deletes != 1 {
		t.Errorf("DELETE session calls = %d, want 1", deletes)
	}
}

var _ core.Backend = (*Driver)(nil)
