package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/executor"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// newTestApp returns the app with captured output.
func newTestApp() (*cli.App, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	app := NewApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	return app, &stdout, &stderr
}

// mailsacServer serves one message whose text is body.
func mailsacServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Mailsac-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/addresses/") && strings.HasSuffix(r.URL.Path, "/messages"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"_id":"m1","subject":"Verify your email"}]`))
		case r.URL.Path == "/text/m1":
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// captureExit replaces cli.OsExiter for the test and returns the last code.
func captureExit(t *testing.T) *int {
	t.Helper()
	code := -1
	orig := cli.OsExiter
	cli.OsExiter = func(c int) { code = c }
	t.Cleanup(func() { cli.OsExiter = orig })
	return &code
}

func TestResolveOutputDir(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name    string
		output  string
		flatten bool
		want    string
		wantErr bool
	}{
		{"default base", "", false, filepath.Join("base", "2026-03-04_05-06-07"), false},
		{"custom output", "./my-reports", false, filepath.Join("my-reports", "2026-03-04_05-06-07"), false},
		{"flatten", "./my-reports/", true, "my-reports", false},
		{"flatten without output", "", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveOutputDir(tt.output, "base", tt.flatten, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseEnvVars(t *testing.T) {
	got := parseEnvVars([]string{"USER=ada", "URL=https://x.test/?a=b", "INVALID", ""})
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got["USER"] != "ada" || got["URL"] != "https://x.test/?a=b" {
		t.Errorf("got %v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1500, "1.5s"},
		{59999, "60.0s"},
		{60000, "1m 0s"},
		{125000, "2m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.ms); got != tt.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestLoadCapabilities(t *testing.T) {
	dir := t.TempDir()
	good := writeScenario(t, dir, "caps.json", `{"appium:udid":"emulator-5554","appium:newCommandTimeout":300}`)
	caps, err := loadCapabilities(good)
	if err != nil {
		t.Fatal(err)
	}
	if caps["appium:udid"] != "emulator-5554" || caps["appium:newCommandTimeout"] != float64(300) {
		t.Errorf("caps = %v", caps)
	}

	bad := writeScenario(t, dir, "bad.json", `{not json`)
	if _, err := loadCapabilities(bad); err == nil || !strings.Contains(err.Error(), "parse caps JSON") {
		t.Errorf("invalid JSON: err = %v", err)
	}
	if _, err := loadCapabilities(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestBuildCapabilities(t *testing.T) {
	t.Run("android defaults", func(t *testing.T) {
		caps := buildCapabilities("android", "com.acme.app", nil)
		want := map[string]interface{}{
			"platformName":                "Android",
			"appium:automationName":       "UiAutomator2",
			"appium:autoGrantPermissions": true,
			"appium:appPackage":           "com.acme.app",
		}
		for k, v := range want {
			if caps[k] != v {
				t.Errorf("%s = %v, want %v", k, caps[k], v)
			}
		}
	})

	t.Run("layers in priority order", func(t *testing.T) {
		workspace := map[string]interface{}{"appium:udid": "a", "appium:autoGrantPermissions": false}
		file := map[string]interface{}{"appium:udid": "b"}
		scenario := map[string]interface{}{"appium:udid": "c"}
		caps := buildCapabilities("android", "", workspace, file, scenario)
		if caps["appium:udid"] != "c" {
			t.Errorf("udid = %v", caps["appium:udid"])
		}
		if caps["appium:autoGrantPermissions"] != false {
			t.Errorf("autoGrantPermissions = %v", caps["appium:autoGrantPermissions"])
		}
		if _, ok := caps["appium:appPackage"]; ok {
			t.Error("appPackage set without an app id")
		}
	})

	t.Run("ios and windows", func(t *testing.T) {
		ios := buildCapabilities("ios", "com.acme.ios")
		if ios["appium:bundleId"] != "com.acme.ios" || ios["appium:automationName"] != "XCUITest" {
			t.Errorf("ios = %v", ios)
		}
		win := buildCapabilities("windows", `C:\Acme\Acme.exe`)
		if win["appium:app"] != `C:\Acme\Acme.exe` || win["platformName"] != "Windows" {
			t.Errorf("windows = %v", win)
		}
	})
}

func TestParseArtifactMode(t *testing.T) {
	tests := map[string]executor.ArtifactMode{
		"":           executor.ArtifactOnFailure,
		"on-failure": executor.ArtifactOnFailure,
		"always":     executor.ArtifactAlways,
		"never":      executor.ArtifactNever,
	}
	for in, want := range tests {
		got, err := parseArtifactMode(in)
		if err != nil || got != want {
			t.Errorf("parseArtifactMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseArtifactMode("sometimes"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestGlobalFlags(t *testing.T) {
	names := map[string]bool{}
	for _, f := range GlobalFlags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{"config", "platform", "p", "source", "max-wait", "interval", "api-key", "verbose", "no-ansi"} {
		if !names[want] {
			t.Errorf("missing global flag %q", want)
		}
	}
}

func TestRunCommand_NoArgs(t *testing.T) {
	app, _, _ := newTestApp()
	err := app.Run([]string{"handoff", "run"})
	if err == nil || !strings.Contains(err.Error(), "at least one scenario") {
		t.Errorf("err = %v", err)
	}
}

func TestRunCommand_FlattenWithoutOutput(t *testing.T) {
	file := writeScenario(t, t.TempDir(), "a.yaml", "- back\n")
	app, _, _ := newTestApp()
	err := app.Run([]string{"handoff", "run", "--flatten", file})
	if err == nil || !strings.Contains(err.Error(), "--flatten requires --output") {
		t.Errorf("err = %v", err)
	}
}

func TestRunCommand_ValidationErrors(t *testing.T) {
	dir := t.TempDir()
	file := writeScenario(t, dir, "bad.yaml", "- inputText: hello\n")
	app, stdout, _ := newTestApp()
	err := app.Run([]string{"handoff", "run", "--output", filepath.Join(dir, "out"), "--flatten", file})
	if err == nil || !strings.Contains(err.Error(), "validation error") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(stdout.String(), `no "into" selector`) {
		t.Errorf("output = %s", stdout.String())
	}
}

func TestRunCommand_FetchOTPWithMockBackend(t *testing.T) {
	srv := mailsacServer(t, "Your verification code is 482913")
	dir := t.TempDir()
	file := writeScenario(t, dir, "otp.yaml", `name: Fetch code
---
- generateMailbox
- fetchOtp
- evalScript: ${output.DOUBLE = OTP + OTP}
`)
	outDir := filepath.Join(dir, "out")

	exit := captureExit(t)
	app, stdout, _ := newTestApp()
	err := app.Run([]string{
		"handoff",
		"--platform", "mock",
		"--source", "api",
		"--api-url", srv.URL,
		"--api-key", "k",
		"--interval", "50ms",
		"--max-wait", "2s",
		"run", "--output", outDir, "--flatten", "--allure", file,
	})
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stdout.String())
	}
	if *exit != -1 {
		t.Errorf("exit code = %d", *exit)
	}

	out := stdout.String()
	for _, want := range []string{"Extracted OTP: 482913: PASS", "Fetch code", "TOTAL", "1/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	r, err := report.ReadReport(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != report.StatusPassed || len(r.Scenarios) != 1 {
		t.Errorf("report status = %s, scenarios = %d", r.Status, len(r.Scenarios))
	}
	for _, name := range []string{"report.html", "handoff.log", "allure-results"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestRunCommand_FailureExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	file := writeScenario(t, dir, "fail.yaml", `- tapOn:
    id: missing
    timeout: 200
`)
	exit := captureExit(t)
	app, stdout, _ := newTestApp()
	err := app.Run([]string{"handoff", "-p", "mock", "run", "--output", filepath.Join(dir, "out"), "--flatten", file})
	if err == nil {
		t.Fatal("expected error")
	}
	if *exit != 1 {
		t.Errorf("exit code = %d, want 1", *exit)
	}
	if !strings.Contains(stdout.String(), "✗ FAIL") {
		t.Errorf("output = %s", stdout.String())
	}
}

func TestOTPCommand(t *testing.T) {
	srv := mailsacServer(t, "Hi!\nYour code is 482913.\nOr open https://app.test/verify?t=abc to continue.")
	args := []string{
		"handoff", "--source", "api", "--api-url", srv.URL, "--api-key", "k",
		"--interval", "50ms", "--max-wait", "2s",
	}

	app, stdout, stderr := newTestApp()
	if err := app.Run(append(args, "otp", "--link", "abcdtest@mailsac.com")); err != nil {
		t.Fatalf("otp: %v\n%s", err, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || lines[0] != "482913" || !strings.HasPrefix(lines[1], "https://app.test/verify") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Extracted OTP: 482913: PASS") {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestOTPCommand_RejectedKey(t *testing.T) {
	srv := mailsacServer(t, "")
	app, stdout, _ := newTestApp()
	err := app.Run([]string{
		"handoff", "--source", "api", "--api-url", srv.URL, "--api-key", "wrong",
		"--interval", "50ms", "--max-wait", "1s", "otp", "abcdtest",
	})
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("err = %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestOTPCommand_NeedsMailbox(t *testing.T) {
	app, _, _ := newTestApp()
	if err := app.Run([]string{"handoff", "otp"}); err == nil {
		t.Error("expected error without a mailbox")
	}
}

func TestMailboxCommand(t *testing.T) {
	t.Setenv("HANDOFF_MAILBOX_TAG", "test")

	app, stdout, _ := newTestApp()
	if err := app.Run([]string{"handoff", "mailbox", "--count", "3", "--domain", "example.test", "--length", "5"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	re := regexp.MustCompile(`^[a-z]{5}test@example\.test$`)
	for _, l := range lines {
		if !re.MatchString(l) {
			t.Errorf("mailbox %q does not match %s", l, re)
		}
	}
}

func TestMailboxCommand_WithName(t *testing.T) {
	app, stdout, _ := newTestApp()
	if err := app.Run([]string{"handoff", "mailbox", "--name"}); err != nil {
		t.Fatal(err)
	}
	re := regexp.MustCompile(`^\S+@\S+\t[A-Z][a-z]+ [A-Z][a-z]+$`)
	if line := strings.TrimSpace(stdout.String()); !re.MatchString(line) {
		t.Errorf("line = %q", line)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", "- generateMailbox\n- fetchOtp\n")
	writeScenario(t, dir, "b.yaml", "tags: [slow]\n---\n- back\n")

	app, stdout, _ := newTestApp()
	if err := app.Run([]string{"handoff", "validate", "--exclude-tags", "slow", dir}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "1 scenario(s) valid") {
		t.Errorf("output = %s", stdout.String())
	}

	writeScenario(t, dir, "c.yaml", "- handoff:\n    code: \"1234\"\n")
	app, stdout, _ = newTestApp()
	err := app.Run([]string{"handoff", "validate", dir})
	if err == nil || !strings.Contains(stdout.String(), "input selector is required") {
		t.Errorf("err = %v, output = %s", err, stdout.String())
	}
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := report.NewBuilder("run-1", start, report.RunnerInfo{Version: "test"})
	w := report.Writer{Dir: dir}
	if err := w.Flush(b.Finish(start.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "report.html")); err != nil {
		t.Fatal(err)
	}

	app, stdout, _ := newTestApp()
	if err := app.Run([]string{"handoff", "report", "--allure", dir}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"report.html", "allure-results"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if !strings.Contains(stdout.String(), "report.html") {
		t.Errorf("output = %s", stdout.String())
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	p.printSummary(&executor.RunResult{
		TotalScenarios:  2,
		PassedScenarios: 1,
		FailedScenarios: 1,
		Duration:        3200,
		Scenarios: []executor.ScenarioSummary{
			{Name: "Signup", Status: report.StatusPassed, Duration: 2000, StepsTotal: 4, StepsPassed: 4},
			{Name: strings.Repeat("x", 50), Status: report.StatusFailed, Duration: 1200, StepsTotal: 3, StepsPassed: 1, StepsFailed: 1, StepsSkipped: 1},
		},
	})

	out := buf.String()
	for _, want := range []string{"5 steps passing", "1 steps failing", "1 steps skipped", "Signup", "✓ PASS", "✗ FAIL", "xxx...", "1/2"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("summary has ANSI codes for a non-terminal writer")
	}
}

func TestPrinterProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, true)
	p.onScenarioStart(0, 2, "Signup", "signup.yaml")
	p.onStepComplete(1, "tapOn: #email", core.StatusPassed, 10, "")
	p.onStepComplete(2, "tapOn: #missing", core.StatusFailed, 10, "control not found")
	p.onScenarioEnd("Signup", core.StatusWarned, 1500)

	out := buf.String()
	for _, want := range []string{"[1/2] Signup (signup.yaml)", "└─ control not found", "⚠ WARN Signup (1.5s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tapOn: #email") {
		t.Error("passed steps should not be echoed")
	}
}
