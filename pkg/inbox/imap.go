package inbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// arrivalSlack tolerates clock skew between us and the mail server.
const arrivalSlack = time.Minute

// IMAPOptions configures an IMAP source.
type IMAPOptions struct {
	Addr     string // host:port
	Username string
	Password string
	Mailbox  string // Defaults to INBOX
	Insecure bool   // Plain TCP instead of TLS
}

// IMAPSource watches an IMAP folder for unseen mail addressed to the mailbox.
type IMAPSource struct {
	opts IMAPOptions
	now  func() time.Time

	client  *imapclient.Client
	address string
	since   time.Time
	body    string
	log     *report.StepLog
}

var _ Source = (*IMAPSource)(nil)

// NewIMAPSource creates an IMAP source.
func NewIMAPSource(opts IMAPOptions) *IMAPSource {
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	return &IMAPSource{opts: opts, now: time.Now}
}

// Open connects, logs in and selects the folder.
func (s *IMAPSource) Open(ctx context.Context, mailbox identity.Mailbox, log *report.StepLog) error {
	if s.opts.Addr == "" {
		return core.ErrMissingRequired.WithMessage("imap address is required (IMAP_ADDR)")
	}
	s.log = log
	s.address = mailbox.String()
	s.since = s.now().Add(-arrivalSlack)
	s.body = ""

	client, err := s.dial()
	if err != nil {
		log.Fail("Could not connect to %s", s.opts.Addr)
		return core.ErrMailServerUnreachable.WithCause(err)
	}
	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		log.Fail("IMAP login failed for %s", s.opts.Username)
		return fmt.Errorf("imap login failed: %w", err)
	}
	if _, err := client.Select(s.opts.Mailbox, nil).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("select %s: %w", s.opts.Mailbox, err)
	}
	s.client = client
	log.Info("Watching %s in %s on %s", s.address, s.opts.Mailbox, s.opts.Addr)
	return nil
}

func (s *IMAPSource) dial() (*imapclient.Client, error) {
	if s.opts.Insecure {
		return imapclient.DialInsecure(s.opts.Addr, nil)
	}
	host, _, err := net.SplitHostPort(s.opts.Addr)
	if err != nil {
		host = s.opts.Addr
	}
	return imapclient.DialTLS(s.opts.Addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: host},
	})
}

// Await searches once for an unseen message addressed to the mailbox that
// arrived after the session started. The newest match is selected.
func (s *IMAPSource) Await(ctx context.Context, window time.Duration) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("imap source is not open")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	data, err := s.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return false, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return false, nil
	}

	msgs, err := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	}).Collect()
	if err != nil {
		return false, fmt.Errorf("imap fetch envelopes: %w", err)
	}

	var newest *imapclient.FetchMessageBuffer
	for _, m := range msgs {
		if m.InternalDate.Before(s.since) || !envelopeAddressedTo(m.Envelope, s.address) {
			continue
		}
		if newest == nil || m.InternalDate.After(newest.InternalDate) {
			newest = m
		}
	}
	if newest == nil {
		return false, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	bodies, err := s.client.Fetch(imap.UIDSetNum(newest.UID), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return false, fmt.Errorf("imap fetch body: %w", err)
	}
	if len(bodies) == 0 {
		return false, nil
	}
	msg, err := ParseMessage(bytes.NewReader(bodies[0].FindBodySection(section)))
	if err != nil {
		return false, err
	}
	s.body = msg.Text
	logger.Debug("imap message uid %d: %q", newest.UID, msg.Subject)
	return true, nil
}

func envelopeAddressedTo(env *imap.Envelope, addr string) bool {
	if env == nil {
		return false
	}
	for _, list := range [][]imap.Address{env.To, env.Cc} {
		for _, a := range list {
			if strings.EqualFold(a.Addr(), addr) {
				return true
			}
		}
	}
	return false
}

// Refresh pings the server so it reports new arrivals.
func (s *IMAPSource) Refresh(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Noop().Wait()
}

// Body returns the text of the selected message.
func (s *IMAPSource) Body(ctx context.Context) (string, error) {
	if s.body == "" {
		s.log.Fail("Email body not found")
		return "", fmt.Errorf("no message selected")
	}
	return s.body, nil
}

// Close logs out.
func (s *IMAPSource) Close() error {
	if s.client == nil {
		return nil
	}
	c := s.client
	s.client = nil
	if err := c.Logout().Wait(); err != nil {
		logger.Debug("imap logout: %v", err)
	}
	return c.Close()
}
