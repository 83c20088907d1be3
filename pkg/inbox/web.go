package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// DefaultControlTimeout bounds the waits for webmail page controls.
const DefaultControlTimeout = 20 * time.Second

// Page describes the controls of a webmail search page.
type Page struct {
	Name         string
	URL          string
	MailboxInput flow.Selector
	CheckButton  flow.Selector
	InboxRow     flow.Selector
	Body         flow.Selector
}

// MailsacPage returns the page descriptor for mailsac.com served at url.
func MailsacPage(url string) Page {
	return Page{
		Name: "Mailsac",
		URL:  url,
		MailboxInput: flow.Selector{
			XPath: "//input[@placeholder='mailbox']",
			Or:    []flow.Selector{{CSS: "input[placeholder='mailbox']"}},
		},
		CheckButton: flow.Selector{
			XPath: "//button[normalize-space()='Check the mail!']",
			Or: []flow.Selector{
				{XPath: "//button[contains(text(),'Check')]"},
				{CSS: "button.btn-primary, button[title*='Check']"},
			},
		},
		InboxRow: flow.Selector{
			XPath: "//table[contains(@class,'inbox-table')]/tbody/tr[contains(@class,'clickable')][1]",
		},
		Body: flow.Selector{
			CSS: "#emailBody",
			Or: []flow.Selector{
				{CSS: ".message-body, .email-content"},
				{CSS: "body"},
			},
		},
	}
}

// WebSource drives a webmail page through a backend.
type WebSource struct {
	Backend core.Backend
	Page    Page
	// Timeout bounds waits for page controls. Defaults to DefaultControlTimeout.
	Timeout time.Duration
	// OnFail, when set, is called after a FAIL entry so the caller can
	// attach a screenshot.
	OnFail func(ctx context.Context, name string)

	log *report.StepLog
}

var _ Source = (*WebSource)(nil)

// NewWebSource creates a source for page on backend.
func NewWebSource(backend core.Backend, page Page) *WebSource {
	return &WebSource{Backend: backend, Page: page}
}

func (s *WebSource) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultControlTimeout
}

// Open loads the page, enters the mailbox name and opens the inbox.
func (s *WebSource) Open(ctx context.Context, mailbox identity.Mailbox, log *report.StepLog) error {
	s.log = log
	if err := s.Backend.Navigate(ctx, s.Page.URL); err != nil {
		s.fail(ctx, "open_error", "Could not open %s website", s.Page.Name)
		return fmt.Errorf("open %s: %w", s.Page.URL, err)
	}
	log.Pass("Opened %s website", s.Page.Name)

	input, err := s.Backend.WaitFor(ctx, s.Page.MailboxInput, core.StateReady, s.timeout())
	if err != nil {
		s.fail(ctx, "mailbox_input", "Mailbox input not found")
		return err
	}
	if err := s.Backend.Clear(ctx, input); err != nil {
		return err
	}
	if err := s.Backend.TypeText(ctx, input, mailbox.Local); err != nil {
		return err
	}
	log.Pass("Mailbox entered")

	check, err := s.Backend.WaitFor(ctx, s.Page.CheckButton, core.StateReady, s.timeout())
	if err != nil {
		s.fail(ctx, "debug", "Check button not found")
		return err
	}
	if err := s.Backend.Click(ctx, check); err != nil {
		return err
	}
	log.Pass("Opened %s inbox", s.Page.Name)
	return nil
}

// Await waits up to window for the first inbox row and clicks it.
func (s *WebSource) Await(ctx context.Context, window time.Duration) (bool, error) {
	row, err := s.Backend.WaitFor(ctx, s.Page.InboxRow, core.StateReady, window)
	if err != nil {
		if isControlMiss(err) {
			return false, nil
		}
		return false, err
	}
	if err := s.Backend.Click(ctx, row); err != nil {
		if isControlMiss(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Refresh clicks the check button again, without waiting for it.
func (s *WebSource) Refresh(ctx context.Context) error {
	for _, alt := range s.Page.CheckButton.Alternatives() {
		c, err := s.Backend.Locate(ctx, alt)
		if err != nil {
			if errors.Is(err, core.ErrControlNotFound) {
				continue
			}
			return err
		}
		return s.Backend.Click(ctx, c)
	}
	return core.ErrControlNotFound.WithMessage("refresh control " + s.Page.CheckButton.Describe() + " not found")
}

// Body reads the text of the opened message. Each body selector gets its
// own wait, in order, so a late message pane wins over the page fallbacks.
func (s *WebSource) Body(ctx context.Context) (string, error) {
	var (
		c   *core.Control
		err error
	)
	for _, alt := range s.Page.Body.Alternatives() {
		c, err = s.Backend.WaitFor(ctx, alt, core.StateExists, s.timeout())
		if err == nil || !isControlMiss(err) {
			break
		}
		logger.Debug("body selector %s missed, trying next", alt.Describe())
	}
	if err != nil {
		s.fail(ctx, "body", "Email body not found")
		return "", err
	}
	text, err := s.Backend.Text(ctx, c)
	if err != nil {
		s.fail(ctx, "body", "Email body not readable")
		return "", err
	}
	logger.Debug("message body: %d bytes", len(text))
	return text, nil
}

// Close leaves the backend to its owner.
func (s *WebSource) Close() error { return nil }

func (s *WebSource) fail(ctx context.Context, name, format string, args ...interface{}) {
	s.log.Fail(format, args...)
	if s.OnFail != nil {
		s.OnFail(ctx, "mailsac_"+name)
	}
}

func isControlMiss(err error) bool {
	return errors.Is(err, core.ErrControlNotFound) || errors.Is(err, core.ErrControlNotInteractive)
}
