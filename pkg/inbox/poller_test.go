package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

var testMailbox = identity.Mailbox{Local: "abcdtest", Domain: "mailsac.com"}

// fakeSource finds a message on attempt hitAt (0: never). When block is
// set, each miss consumes the whole window on the clock, like a page wait.
type fakeSource struct {
	clock      *retry.FakeClock
	hitAt      int
	block      bool
	refreshErr error
	openErr    error
	openGate   chan struct{}
	opened     chan struct{}
	body       string

	attempts  int
	refreshes int
	windows   []time.Duration
	onAwait   func()
}

func (f *fakeSource) Open(ctx context.Context, mailbox identity.Mailbox, log *report.StepLog) error {
	if f.opened != nil {
		close(f.opened)
	}
	if f.openGate != nil {
		<-f.openGate
	}
	return f.openErr
}

func (f *fakeSource) Await(ctx context.Context, window time.Duration) (bool, error) {
	f.attempts++
	f.windows = append(f.windows, window)
	if f.onAwait != nil {
		f.onAwait()
	}
	if f.hitAt > 0 && f.attempts >= f.hitAt {
		return true, nil
	}
	if f.block {
		f.clock.Advance(window)
	}
	return false, nil
}

func (f *fakeSource) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSource) Body(ctx context.Context) (string, error) { return f.body, nil }
func (f *fakeSource) Close() error { return nil }

func newFakeClock() *retry.FakeClock {
	return retry.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
}

func countOutcomes(entries []report.Entry) map[core.Outcome]int {
	counts := make(map[core.Outcome]int)
	for _, e := range entries {
		counts[e.Outcome]++
	}
	return counts
}

func TestPollEmptyInboxRefreshesFiveTimes(t *testing.T) {
	for _, block := range []bool{false, true} {
		clock := newFakeClock()
		src := &fakeSource{clock: clock, block: block}
		log := report.NewStepLog(clock.Now)
		p := NewPoller(src, clock, log)

		res, err := p.Poll(context.Background(), testMailbox, Options{MaxWait: 10 * time.Second, Interval: 2 * time.Second})
		if err != nil {
			t.Fatalf("block=%v: Poll: %v", block, err)
		}
		if res.Found || !res.TimedOut {
			t.Errorf("block=%v: got %+v, want timed out", block, res)
		}
		if res.Refreshes != 5 || src.refreshes != 5 {
			t.Errorf("block=%v: refreshes = %d (source saw %d), want 5", block, res.Refreshes, src.refreshes)
		}
		if res.Elapsed != 10*time.Second {
			t.Errorf("block=%v: elapsed = %s, want 10s", block, res.Elapsed)
		}

		entries := log.Entries()
		counts := countOutcomes(entries)
		if counts[core.OutcomeInfo] != 5 || counts[core.OutcomeFail] != 1 {
			t.Errorf("block=%v: outcomes = %v", block, counts)
		}
		if last := entries[len(entries)-1]; last.Outcome != core.OutcomeFail {
			t.Errorf("block=%v: last entry = %v, want FAIL", block, last)
		}
	}
}

func TestPollReturnsWithinBudgetPlusInterval(t *testing.T) {
	tests := []struct {
		maxWait, interval time.Duration
	}{
		{10 * time.Second, 2 * time.Second},
		{10 * time.Second, 3 * time.Second},
		{5 * time.Second, 5 * time.Second},
		{2 * time.Second, 5 * time.Second},
		{120 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		for _, block := range []bool{false, true} {
			clock := newFakeClock()
			start := clock.Now()
			p := NewPoller(&fakeSource{clock: clock, block: block}, clock, nil)

			res, err := p.Poll(context.Background(), testMailbox, Options{MaxWait: tt.maxWait, Interval: tt.interval})
			if err != nil {
				t.Fatal(err)
			}
			if got := clock.Now().Sub(start); got > tt.maxWait+tt.interval {
				t.Errorf("maxWait=%s interval=%s block=%v: took %s", tt.maxWait, tt.interval, block, got)
			}
			if !res.TimedOut {
				t.Errorf("expected timeout, got %+v", res)
			}
		}
	}
}

func TestPollFound(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{clock: clock, hitAt: 3, body: "Your code is 482913"}
	log := report.NewStepLog(clock.Now)
	p := NewPoller(src, clock, log)

	res, err := p.Poll(context.Background(), testMailbox, Options{MaxWait: time.Minute, Interval: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.TimedOut || res.Attempts != 3 || res.Refreshes != 2 {
		t.Errorf("got %+v", res)
	}
	entries := log.Entries()
	if last := entries[len(entries)-1]; last.Description != MsgSelected || last.Outcome != core.OutcomePass {
		t.Errorf("last entry = %v", last)
	}
	for _, w := range src.windows {
		if w != 5*time.Second {
			t.Errorf("await window = %s, want the interval", w)
		}
	}
	if body, _ := p.Body(context.Background()); body != "Your code is 482913" {
		t.Errorf("Body = %q", body)
	}
}

func TestPollInvalidOptions(t *testing.T) {
	clock := newFakeClock()
	good := Options{MaxWait: time.Second, Interval: time.Second}
	tests := []struct {
		name    string
		src     Source
		mailbox identity.Mailbox
		opts    Options
	}{
		{"no source", nil, testMailbox, good},
		{"empty mailbox", &fakeSource{clock: clock}, identity.Mailbox{}, good},
		{"zero max wait", &fakeSource{clock: clock}, testMailbox, Options{Interval: time.Second}},
		{"negative interval", &fakeSource{clock: clock}, testMailbox, Options{MaxWait: time.Second, Interval: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Poller{Source: tt.src, Clock: clock}
			if _, err := p.Poll(context.Background(), tt.mailbox, tt.opts); !errors.Is(err, core.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPollRefreshErrors(t *testing.T) {
	clock := newFakeClock()
	missing := &fakeSource{clock: clock, hitAt: 2, refreshErr: core.ErrControlNotFound}
	res, err := NewPoller(missing, clock, nil).Poll(context.Background(), testMailbox, Options{MaxWait: time.Minute, Interval: time.Second})
	if err != nil || !res.Found {
		t.Errorf("missing refresh control should be swallowed: %+v, %v", res, err)
	}

	boom := errors.New("session deleted")
	broken := &fakeSource{clock: clock, refreshErr: boom}
	if _, err := NewPoller(broken, clock, nil).Poll(context.Background(), testMailbox, Options{MaxWait: time.Minute, Interval: time.Second}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want session deleted", err)
	}
}

func TestPollOpenError(t *testing.T) {
	clock := newFakeClock()
	boom := errors.New("navigate failed")
	_, err := NewPoller(&fakeSource{clock: clock, openErr: boom}, clock, nil).
		Poll(context.Background(), testMailbox, Options{MaxWait: time.Second, Interval: time.Second})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want navigate failed", err)
	}
}

func TestPollCanceled(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{clock: clock}
	src.onAwait = func() {
		if src.attempts == 2 {
			cancel()
		}
	}
	_, err := NewPoller(src, clock, nil).Poll(ctx, testMailbox, Options{MaxWait: time.Minute, Interval: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPollSingleSession(t *testing.T) {
	clock := newFakeClock()
	gate := make(chan struct{})
	opened := make(chan struct{})
	p := NewPoller(&fakeSource{clock: clock, hitAt: 1, openGate: gate, opened: opened}, clock, nil)
	opts := Options{MaxWait: time.Second, Interval: time.Second}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = p.Poll(context.Background(), testMailbox, opts)
	}()

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("first poll never started")
	}

	if _, err := p.Poll(context.Background(), testMailbox, opts); !errors.Is(err, ErrSessionActive) {
		t.Errorf("err = %v, want ErrSessionActive", err)
	}
	close(gate)
	wg.Wait()
	if firstErr != nil {
		t.Errorf("first poll: %v", firstErr)
	}
	if p.Session() != nil {
		t.Error("session should be cleared after Poll")
	}
}

func TestPollSessionVisibleDuringPoll(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{clock: clock, hitAt: 1}
	p := NewPoller(src, clock, nil)
	var seen *Session
	src.onAwait = func() { seen = p.Session() }

	if _, err := p.Poll(context.Background(), testMailbox, Options{MaxWait: 30 * time.Second, Interval: time.Second}); err != nil {
		t.Fatal(err)
	}
	if seen == nil {
		t.Fatal("expected an active session during Await")
	}
	if seen.Mailbox != testMailbox || seen.Deadline.Sub(seen.Start) != 30*time.Second {
		t.Errorf("session = %+v", seen)
	}
}
