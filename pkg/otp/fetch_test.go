package otp

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/inbox"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

var testMailbox = identity.Mailbox{Local: "abcdtest", Domain: "mailsac.com"}

var pollOpts = inbox.Options{MaxWait: 10 * time.Second, Interval: 2 * time.Second}

// stubSource delivers body on attempt hitAt (0: never).
type stubSource struct {
	hitAt    int
	body     string
	bodyErr  error
	attempts int
}

func (s *stubSource) Open(context.Context, identity.Mailbox, *report.StepLog) error { return nil }

func (s *stubSource) Await(context.Context, time.Duration) (bool, error) {
	s.attempts++
	return s.hitAt > 0 && s.attempts >= s.hitAt, nil
}

func (s *stubSource) Refresh(context.Context) error { return nil }

func (s *stubSource) Body(context.Context) (string, error) { return s.body, s.bodyErr }

func (s *stubSource) Close() error { return nil }

func newRetriever(src inbox.Source) (*Retriever, *retry.FakeClock, *report.StepLog) {
	clock := retry.NewFakeClock(testStart)
	log := report.NewStepLog(clock.Now)
	return &Retriever{Poller: inbox.NewPoller(src, clock, log), Log: log}, clock, log
}

func TestFetchCode(t *testing.T) {
	r, _, log := newRetriever(&stubSource{hitAt: 2, body: "Your code is 482913, expires in 10 minutes. https://mailsac.test/verify?id=9."})

	got, err := r.Fetch(context.Background(), testMailbox, pollOpts)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Code.Value() != "482913" {
		t.Errorf("code = %q", got.Code.Value())
	}
	if got.Link != "https://mailsac.test/verify?id=9" {
		t.Errorf("link = %q", got.Link)
	}
	if got.Outcome != StateCodeFound || !got.Poll.Found {
		t.Errorf("outcome = %s, poll = %+v", got.Outcome, got.Poll)
	}
	want := []State{StateIdle, StatePolling, StateFound, StateExtracting, StateCodeFound, StateDone}
	if !reflect.DeepEqual(got.History, want) {
		t.Errorf("history = %v", got.History)
	}
	wantLog := []string{
		"Refreshed inbox: INFO",
		"Clicked on first email row: PASS",
		"Extracted OTP: 482913: PASS",
		"Found verification link: INFO",
	}
	if d := descriptions(log); !reflect.DeepEqual(d, wantLog) {
		t.Errorf("log = %q, want %q", d, wantLog)
	}
}

func TestFetchCustomPattern(t *testing.T) {
	r, _, _ := newRetriever(&stubSource{hitAt: 1, body: "Order 2024 confirmed. Code: G-771203"})
	e, err := NewExtractor(`G-(\d{6})`)
	if err != nil {
		t.Fatal(err)
	}
	r.Extractor = e

	got, err := r.Fetch(context.Background(), testMailbox, pollOpts)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Code.Value() != "771203" {
		t.Errorf("code = %q, want 771203", got.Code.Value())
	}
}

func TestFetchTimeout(t *testing.T) {
	r, clock, log := newRetriever(&stubSource{})

	got, err := r.Fetch(context.Background(), testMailbox, pollOpts)
	if !errors.Is(err, core.ErrTimeoutExhausted) {
		t.Fatalf("err = %v, want ErrTimeoutExhausted", err)
	}
	if !got.Poll.TimedOut || got.Outcome != StateTimedOut {
		t.Errorf("got %+v", got)
	}
	if elapsed := clock.Now().Sub(testStart); elapsed > pollOpts.MaxWait+pollOpts.Interval {
		t.Errorf("elapsed %s exceeds budget", elapsed)
	}
	last := log.Entries()[log.Len()-1]
	if last.Outcome != core.OutcomeFail || last.Description != "No email received within 10s" {
		t.Errorf("last entry = %+v", last)
	}
}

func TestFetchBodyUnavailable(t *testing.T) {
	r, _, _ := newRetriever(&stubSource{hitAt: 1, bodyErr: core.ErrControlNotFound})

	got, err := r.Fetch(context.Background(), testMailbox, pollOpts)
	if !errors.Is(err, core.ErrExtractionMiss) {
		t.Fatalf("err = %v, want ErrExtractionMiss", err)
	}
	if got.Outcome != StateCodeNotFound {
		t.Errorf("outcome = %s", got.Outcome)
	}
}

func TestStartThenDeliver(t *testing.T) {
	r, _, log := newRetriever(&stubSource{hitAt: 1, body: "PIN 5521"})
	b, _ := newDesktop(0)
	h := &Handoff{Backend: b, Log: log, WindowTitle: "Acme", Input: flow.Selector{ID: "otpInput"}}

	got, err := r.Start(context.Background(), testMailbox, pollOpts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !got.Open() || got.Outcome != StateCodeFound {
		t.Fatalf("cycle not waiting for handoff: outcome = %s", got.Outcome)
	}
	if err := got.Deliver(context.Background(), h); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if b.Value("otp") != "5521" {
		t.Errorf("otp field = %q", b.Value("otp"))
	}
	if got.Open() || got.Outcome != StateSubmitting || !got.Code.Spent() {
		t.Errorf("outcome = %s, spent = %v", got.Outcome, got.Code.Spent())
	}
	want := []State{StateIdle, StatePolling, StateFound, StateExtracting, StateCodeFound, StateSubmitting, StateDone}
	if !reflect.DeepEqual(got.History, want) {
		t.Errorf("history = %v", got.History)
	}

	got.Finish()
	if !reflect.DeepEqual(got.History, want) {
		t.Errorf("second Finish changed history: %v", got.History)
	}
}

func TestStartNoCodeClosesCycle(t *testing.T) {
	r, _, log := newRetriever(&stubSource{hitAt: 1, body: "Welcome!"})

	got, err := r.Start(context.Background(), testMailbox, pollOpts)
	if !errors.Is(err, core.ErrExtractionMiss) {
		t.Fatalf("err = %v, want ErrExtractionMiss", err)
	}
	if got.Open() || got.Outcome != StateCodeNotFound {
		t.Errorf("outcome = %s", got.Outcome)
	}
	last := log.Entries()[log.Len()-1]
	if last.Description != "OTP not found" || last.Outcome != core.OutcomeFail {
		t.Errorf("last entry = %+v", last)
	}
	if got.History[len(got.History)-1] != StateDone {
		t.Errorf("history = %v", got.History)
	}
}

func TestStartFinishWithoutHandoff(t *testing.T) {
	r, _, _ := newRetriever(&stubSource{hitAt: 1, body: "code 7788"})

	got, err := r.Start(context.Background(), testMailbox, pollOpts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got.Finish()
	want := []State{StateIdle, StatePolling, StateFound, StateExtracting, StateCodeFound, StateDone}
	if got.Outcome != StateCodeFound || !reflect.DeepEqual(got.History, want) {
		t.Errorf("outcome = %s, history = %v", got.Outcome, got.History)
	}
	if got.Code.Spent() {
		t.Error("Finish should not consume the code")
	}
}

func TestDeliverFailureConsumesCode(t *testing.T) {
	r, _, log := newRetriever(&stubSource{hitAt: 1, body: "code 1234"})
	b, _ := newDesktop(-1)
	h := &Handoff{Backend: b, Log: log, WindowTitle: "Acme", Input: flow.Selector{ID: "otpInput"}, WindowTimeout: 3 * time.Second}

	got, err := r.Start(context.Background(), testMailbox, pollOpts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := got.Deliver(context.Background(), h); !errors.Is(err, core.ErrWindowNotFound) {
		t.Fatalf("err = %v, want ErrWindowNotFound", err)
	}
	if !got.Code.Spent() {
		t.Error("code should be consumed by a failed delivery")
	}
	if got.History[len(got.History)-1] != StateDone {
		t.Errorf("history = %v", got.History)
	}
}
