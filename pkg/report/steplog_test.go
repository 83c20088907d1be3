package report

import (
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
)

func TestStepLogAppend(t *testing.T) {
	now := testStart
	l := NewStepLog(func() time.Time { now = now.Add(time.Second); return now })

	l.Info("Refreshed inbox")
	l.Pass("Clicked on first email row")
	e := l.Fail("Window %q not found", "Chrome")

	if e.Seq != 3 || e.Outcome != core.OutcomeFail {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Description != `Window "Chrome" not found` {
		t.Errorf("Description = %q", e.Description)
	}

	entries := l.Entries()
	if len(entries) != 3 || l.Len() != 3 || l.Seq() != 3 {
		t.Fatalf("len=%d seq=%d", l.Len(), l.Seq())
	}
	if !entries[1].Time.After(entries[0].Time) {
		t.Error("entries should be time-ordered")
	}
	if entries[0].String() != "Refreshed inbox: INFO" {
		t.Errorf("String = %q", entries[0].String())
	}
}

func TestStepLogEntriesIsCopy(t *testing.T) {
	l := NewStepLog(nil)
	l.Pass("one")
	entries := l.Entries()
	entries[0].Description = "changed"

	if l.Entries()[0].Description != "one" {
		t.Error("Entries should return a copy")
	}
}

func TestStepLogSince(t *testing.T) {
	l := NewStepLog(nil)
	l.Pass("a")
	mark := l.Seq()
	l.Info("b")
	l.Fail("c")

	got := l.Since(mark)
	if len(got) != 2 || got[0].Description != "b" || got[1].Description != "c" {
		t.Errorf("Since = %+v", got)
	}
	if len(l.Since(l.Seq())) != 0 {
		t.Error("expected no entries after latest seq")
	}
}

func TestStepLogAttachLast(t *testing.T) {
	l := NewStepLog(nil)
	l.AttachLast("ignored.png")
	l.Pass("a")
	l.Fail("b")
	l.AttachLast("assets/sc/b.png")

	entries := l.Entries()
	if entries[0].Attachment != "" || entries[1].Attachment != "assets/sc/b.png" {
		t.Errorf("attachments = %q, %q", entries[0].Attachment, entries[1].Attachment)
	}
}

func TestStepLogObservers(t *testing.T) {
	l := NewStepLog(nil)
	var seen []string
	l.OnEntry(func(e Entry) { seen = append(seen, e.String()) })
	l.OnEntry(nil)

	l.Info("Refreshed inbox")
	l.Pass("Typed OTP")

	if len(seen) != 2 || seen[1] != "Typed OTP: PASS" {
		t.Errorf("observer saw %v", seen)
	}
}

func TestStepLogReset(t *testing.T) {
	l := NewStepLog(nil)
	calls := 0
	l.OnEntry(func(Entry) { calls++ })
	l.Pass("a")
	l.Reset()

	if l.Len() != 0 || l.Seq() != 0 {
		t.Errorf("after reset len=%d seq=%d", l.Len(), l.Seq())
	}
	if e := l.Pass("b"); e.Seq != 1 {
		t.Errorf("Seq = %d, want 1", e.Seq)
	}
	if calls != 2 {
		t.Errorf("observer calls = %d, want 2", calls)
	}
}

func TestStepLogNil(t *testing.T) {
	var l *StepLog
	e := l.Fail("nothing %d", 1)
	if e.Description != "nothing 1" || e.Outcome != core.OutcomeFail {
		t.Errorf("unexpected entry %+v", e)
	}
	l.AttachLast("x")
	l.OnEntry(func(Entry) {})
	l.Reset()
	if l.Len() != 0 || l.Seq() != 0 || l.Entries() != nil {
		t.Error("nil log should be empty")
	}
}

func TestStepLogConcurrent(t *testing.T) {
	l := NewStepLog(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Info("tick")
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, e := range l.Entries() {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 entries, got %d", len(seen))
	}
}
