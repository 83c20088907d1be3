package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
)

// Entry is one line of the step log: what happened and how it went.
type Entry struct {
	Seq         int          `json:"seq"`
	Time        time.Time    `json:"time"`
	Description string       `json:"description"`
	Outcome     core.Outcome `json:"outcome"`
	Attachment  string       `json:"attachment,omitempty"` // Path relative to the report dir
}

// String renders the entry the way the console shows it.
func (e Entry) String() string {
	return e.Description + ": " + string(e.Outcome)
}

// StepLog is the append-only record of a run. Entries are never rewritten
// except to attach an artifact to the latest one. A nil *StepLog discards
// everything, so components can be used without one.
type StepLog struct {
	mu        sync.Mutex
	entries   []Entry
	seq       int
	now       func() time.Time
	observers []func(Entry)
}

// NewStepLog creates an empty log. now defaults to time.Now.
func NewStepLog(now func() time.Time) *StepLog {
	if now == nil {
		now = time.Now
	}
	return &StepLog{now: now}
}

// OnEntry registers fn to be called for every new entry, in order.
func (l *StepLog) OnEntry(fn func(Entry)) {
	if l == nil || fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Add appends an entry and returns it.
func (l *StepLog) Add(description string, outcome core.Outcome) Entry {
	if l == nil {
		return Entry{Description: description, Outcome: outcome}
	}

	l.mu.Lock()
	l.seq++
	e := Entry{
		Seq:         l.seq,
		Time:        l.now(),
		Description: description,
		Outcome:     outcome,
	}
	l.entries = append(l.entries, e)
	observers := append([]func(Entry){}, l.observers...)
	l.mu.Unlock()

	for _, fn := range observers {
		fn(e)
	}
	return e
}

// Pass appends a PASS entry.
func (l *StepLog) Pass(format string, args ...interface{}) Entry {
	return l.Add(fmt.Sprintf(format, args...), core.OutcomePass)
}

// Fail appends a FAIL entry.
func (l *StepLog) Fail(format string, args ...interface{}) Entry {
	return l.Add(fmt.Sprintf(format, args...), core.OutcomeFail)
}

// Info appends an INFO entry.
func (l *StepLog) Info(format string, args ...interface{}) Entry {
	return l.Add(fmt.Sprintf(format, args...), core.OutcomeInfo)
}

// AttachLast records an artifact path on the most recent entry.
func (l *StepLog) AttachLast(path string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.entries); n > 0 {
		l.entries[n-1].Attachment = path
	}
}

// Entries returns a copy of all entries.
func (l *StepLog) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns a copy of the entries with Seq greater than seq.
func (l *StepLog) Since(seq int) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Seq returns the sequence number of the latest entry (0 when empty).
func (l *StepLog) Seq() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Len returns the number of entries.
func (l *StepLog) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears the log at the start of a run. Observers are kept.
func (l *StepLog) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.seq = 0
}
