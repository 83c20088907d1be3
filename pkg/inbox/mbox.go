package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// MboxSource watches a local mbox spool, re-reading it on every attempt.
type MboxSource struct {
	Path string

	now     func() time.Time
	address string
	since   time.Time
	body    string
	log     *report.StepLog
}

var _ Source = (*MboxSource)(nil)

// NewMboxSource creates a source over the mbox file at path.
func NewMboxSource(path string) *MboxSource {
	return &MboxSource{Path: path, now: time.Now}
}

// Open records the address and session start.
func (s *MboxSource) Open(ctx context.Context, mailbox identity.Mailbox, log *report.StepLog) error {
	if s.Path == "" {
		return core.ErrMissingRequired.WithMessage("mbox path is required (HANDOFF_MBOX_PATH)")
	}
	s.log = log
	s.address = mailbox.String()
	s.since = s.now().Add(-arrivalSlack)
	s.body = ""
	log.Info("Watching %s in %s", s.address, s.Path)
	return nil
}

// Await scans the spool for the newest message to the mailbox dated after
// the session started. A missing spool file is a miss.
func (s *MboxSource) Await(ctx context.Context, window time.Duration) (bool, error) {
	f, err := os.Open(s.Path) //#nosec G304 -- spool path from config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	var newest *Message
	r := mbox.NewReader(f)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		mr, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("mbox message %d: %w", idx, err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return false, fmt.Errorf("mbox message %d read: %w", idx, err)
		}
		msg, err := ParseMessage(bytes.NewReader(raw))
		if err != nil {
			logger.Debug("skip mbox message %d: %v", idx, err)
			continue
		}
		if !msg.AddressedTo(s.address) || (!msg.Date.IsZero() && msg.Date.Before(s.since)) {
			continue
		}
		if newest == nil || !msg.Date.Before(newest.Date) {
			newest = msg
		}
	}
	if newest == nil {
		return false, nil
	}
	s.body = newest.Text
	return true, nil
}

// Refresh is a no-op: every Await re-reads the spool.
func (s *MboxSource) Refresh(ctx context.Context) error { return nil }

// Body returns the text of the selected message.
func (s *MboxSource) Body(ctx context.Context) (string, error) {
	if s.body == "" {
		s.log.Fail("Email body not found")
		return "", fmt.Errorf("no message selected")
	}
	return s.body, nil
}

// Close is a no-op.
func (s *MboxSource) Close() error { return nil }
