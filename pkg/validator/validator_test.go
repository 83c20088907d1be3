package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/otp-handoff/pkg/flow"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const signup = `
name: Signup
platform: web
url: https://app.test/signup
tags: [smoke]
---
- launchApp
- generateMailbox
- tapOn:
    id: email
- inputText: ${MAILBOX}
- fetchOtp:
    maxWait: 60000
    interval: 5000
- handoff:
    window: Acme.*
    input:
      id: otp
    submit:
      text: Verify|Continue
`

func TestValidate_SingleFile(t *testing.T) {
	file := writeFile(t, t.TempDir(), "signup.yaml", signup)

	result := New(nil, nil).Validate(file)
	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Files) != 1 || len(result.Scenarios) != 1 {
		t.Errorf("files = %v", result.Files)
	}
	if result.Scenarios[0].DisplayName() != "Signup" {
		t.Errorf("name = %q", result.Scenarios[0].DisplayName())
	}
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", signup)
	writeFile(t, dir, "nested/b.yml", "- back\n")
	writeFile(t, dir, "notes.txt", "not a scenario")

	result := New(nil, nil).Validate(dir)
	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Files) != 2 {
		t.Errorf("files = %v", result.Files)
	}
}

func TestValidate_ShippedScenarios(t *testing.T) {
	result := New(nil, nil).Validate(filepath.Join("..", "..", "scenarios"))
	if !result.IsValid() {
		t.Fatalf("shipped scenarios invalid: %v", result.Errors)
	}
	if len(result.Scenarios) != 2 {
		t.Fatalf("scenarios = %d, want 2", len(result.Scenarios))
	}

	byName := make(map[string]*flow.Scenario)
	for _, sc := range result.Scenarios {
		byName[filepath.Base(sc.SourcePath)] = sc
	}

	signup := byName["hp_account_signup.yaml"]
	if signup == nil {
		t.Fatal("hp_account_signup.yaml not loaded")
	}
	var fetch, handoff, link bool
	for _, step := range signup.Steps {
		switch s := step.(type) {
		case *flow.FetchOtpStep:
			fetch = true
		case *flow.HandoffStep:
			handoff = s.Paste && s.Input.ID == "code"
		case *flow.OpenLinkStep:
			link = s.Link == "${VERIFY_LINK}" && s.IsOptional()
		}
	}
	if !fetch || !handoff || !link {
		t.Errorf("signup steps: fetchOtp=%v handoff paste=%v optional verify link=%v", fetch, handoff, link)
	}

	settings := byName["privacy_settings.yaml"]
	if settings == nil {
		t.Fatal("privacy_settings.yaml not loaded")
	}
	for _, key := range []string{"SETTINGS_PAGE", "PAGE_TITLE", "PAGE_LINK"} {
		if settings.Config.Env[key] == "" {
			t.Errorf("privacy_settings.yaml: no default for %s", key)
		}
	}

	if got := New([]string{"otp"}, nil).Validate(filepath.Join("..", "..", "scenarios")).Scenarios; len(got) != 1 {
		t.Errorf("include otp: %d scenarios, want 1", len(got))
	}
}

func TestValidate_TagFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", signup)
	writeFile(t, dir, "b.yaml", "tags: [slow]\n---\n- back\n")

	if got := New([]string{"smoke"}, nil).Validate(dir).Files; len(got) != 1 || filepath.Base(got[0]) != "a.yaml" {
		t.Errorf("include smoke: %v", got)
	}
	if got := New(nil, []string{"smoke"}).Validate(dir).Files; len(got) != 1 || filepath.Base(got[0]) != "b.yaml" {
		t.Errorf("exclude smoke: %v", got)
	}
}

func TestValidate_ParseError(t *testing.T) {
	file := writeFile(t, t.TempDir(), "bad.yaml", "- notAStep: x\n")
	result := New(nil, nil).Validate(file)
	if result.IsValid() || !strings.Contains(result.Errors[0].Error(), "parse error") {
		t.Errorf("errors = %v", result.Errors)
	}
	if len(result.Files) != 0 {
		t.Errorf("files = %v", result.Files)
	}
}

func TestValidate_MissingPath(t *testing.T) {
	result := New(nil, nil).Validate(filepath.Join(t.TempDir(), "missing.yaml"))
	if result.IsValid() || !strings.Contains(result.Errors[0].Error(), "cannot access") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestCheckScenario(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		wants []string // substrings, one per expected error
	}{
		{
			name: "valid",
			src:  signup,
		},
		{
			name:  "inputText without target",
			src:   "- inputText: hello\n",
			wants: []string{`step 1: inputText: no "into" selector`},
		},
		{
			name: "inputText after point tap",
			src:  "- tapOn:\n    point: 10,20\n- inputText: hello\n",
			wants: []string{
				"step 2: inputText",
			},
		},
		{
			name: "inputText with into",
			src:  "- inputText:\n    text: hello\n    into:\n      id: name\n",
		},
		{
			name:  "fetchOtp without mailbox",
			src:   "- fetchOtp\n",
			wants: []string{"no mailbox and no preceding generateMailbox"},
		},
		{
			name: "fetchOtp with env mailbox",
			src:  "env:\n  MAILBOX: abc@mailsac.com\n---\n- fetchOtp\n",
		},
		{
			name:  "fetchOtp bad source and timing",
			src:   "- fetchOtp:\n    mailbox: abc\n    source: pop3\n    maxWait: 1000\n    interval: 5000\n",
			wants: []string{`unknown source "pop3"`, "interval 5000ms exceeds maxWait 1000ms"},
		},
		{
			name:  "fetchOtp bad pattern",
			src:   "- fetchOtp:\n    mailbox: abc\n    pattern: \"([0-9]+\"\n",
			wants: []string{"fetchOtp:"},
		},
		{
			name:  "handoff without code",
			src:   "- handoff:\n    input:\n      id: otp\n",
			wants: []string{"no code and no preceding fetchOtp"},
		},
		{
			name:  "handoff explicit code but no input",
			src:   "- handoff:\n    code: \"1234\"\n    window: \"(\"\n",
			wants: []string{"invalid window pattern", "input selector is required"},
		},
		{
			name:  "bad selector pattern",
			src:   "- assertVisible:\n    text: \"[a-\"\n",
			wants: []string{"invalid text pattern"},
		},
		{
			name:  "bad alternative pattern",
			src:   "- tapOn:\n    id: a\n    or:\n      - text: \"(\"\n",
			wants: []string{"invalid text pattern"},
		},
		{
			name:  "selector and point",
			src:   "- tapOn:\n    id: a\n    point: 1,2\n",
			wants: []string{"either a selector or a point"},
		},
		{
			name:  "bad point",
			src:   "- longPressOn:\n    point: 50%,50%\n",
			wants: []string{`invalid point "50%,50%"`},
		},
		{
			name:  "waitFor state",
			src:   "- waitFor:\n    id: spinner\n    state: gone\n- waitFor\n",
			wants: []string{`unknown state "gone"`, "step 2: waitFor: needs a selector"},
		},
		{
			name:  "launchApp without app",
			src:   "platform: android\n---\n- launchApp\n",
			wants: []string{"no appId"},
		},
		{
			name:  "empty fields",
			src:   "- openLink\n- focusWindow\n- pressKey\n- evalScript\n",
			wants: []string{"link is required", "title is required", "key is required", "script is required"},
		},
		{
			name: "unresolved expressions are not compiled",
			src:  "- focusWindow: ${WINDOW}\n- tapOn:\n    point: ${X},${Y}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := flow.Parse([]byte(tt.src), "test.yaml")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			errs := CheckScenario(sc)
			if len(errs) != len(tt.wants) {
				t.Fatalf("got %d errors %v, want %d", len(errs), errs, len(tt.wants))
			}
			for i, want := range tt.wants {
				if !strings.Contains(errs[i].Error(), want) {
					t.Errorf("error %d = %q, want substring %q", i, errs[i].Error(), want)
				}
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	e := &ValidationError{File: "a.yaml", Step: 3, Message: "bad"}
	if e.Error() != "a.yaml: step 3: bad" {
		t.Errorf("got %q", e.Error())
	}
	e.Step = 0
	if e.Error() != "a.yaml: bad" {
		t.Errorf("got %q", e.Error())
	}
}
