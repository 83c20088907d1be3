package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// APISource polls the mailsac REST API.
type APISource struct {
	BaseURL string // e.g. https://mailsac.com/api
	APIKey  string
	Client  *http.Client

	now     func() time.Time
	address string
	since   time.Time
	msgID   string
	log     *report.StepLog
}

var _ Source = (*APISource)(nil)

// apiMessage is the subset of a mailsac message listing we use.
type apiMessage struct {
	ID       string    `json:"_id"`
	Subject  string    `json:"subject"`
	Received time.Time `json:"received"`
}

// NewAPISource creates a mailsac API source.
func NewAPISource(baseURL, apiKey string) *APISource {
	return &APISource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// Open remembers the address to poll.
func (s *APISource) Open(ctx context.Context, mailbox identity.Mailbox, log *report.StepLog) error {
	if s.APIKey == "" {
		return core.ErrMissingRequired.WithMessage("mailsac API key is required (MAILSAC_API_KEY)")
	}
	s.address = mailbox.String()
	now := s.now
	if now == nil {
		now = time.Now
	}
	s.since = now().Add(-arrivalSlack)
	s.msgID = ""
	s.log = log
	log.Info("Watching %s via mailsac API", s.address)
	return nil
}

// Await lists the mailbox once and selects the newest message received
// since Open. Transient HTTP failures count as a miss.
func (s *APISource) Await(ctx context.Context, window time.Duration) (bool, error) {
	var msgs []apiMessage
	status, err := s.getJSON(ctx, "/addresses/"+url.PathEscape(s.address)+"/messages", &msgs)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			s.log.Fail("Failed to retrieve Mailsac inbox")
			return false, core.ErrInvalidConfig.WithMessage("mailsac API key rejected").WithCause(err)
		}
		logger.Warn("mailsac list %s: %v", s.address, err)
		return false, nil
	}
	// Listings are newest first. Messages from before the session belong
	// to an earlier run of a reused mailbox.
	for _, m := range msgs {
		if !m.Received.IsZero() && m.Received.Before(s.since) {
			continue
		}
		s.msgID = m.ID
		logger.Debug("mailsac message %s: %q", s.msgID, m.Subject)
		return true, nil
	}
	return false, nil
}

// Refresh is a no-op: every Await re-lists the mailbox.
func (s *APISource) Refresh(ctx context.Context) error { return nil }

// Body fetches the plain text of the selected message.
func (s *APISource) Body(ctx context.Context) (string, error) {
	if s.msgID == "" {
		return "", fmt.Errorf("no message selected")
	}
	resp, err := s.do(ctx, "/text/"+url.PathEscape(s.msgID))
	if err != nil {
		s.log.Fail("Email body not found")
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read mailsac text: %w", err)
	}
	return string(data), nil
}

// Close releases idle connections.
func (s *APISource) Close() error {
	if s.Client != nil {
		s.Client.CloseIdleConnections()
	}
	return nil
}

func (s *APISource) getJSON(ctx context.Context, path string, v interface{}) (int, error) {
	resp, err := s.do(ctx, path)
	if err != nil {
		if resp != nil {
			return resp.StatusCode, err
		}
		return 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

// do performs a GET. A non-200 response is returned together with an error.
func (s *APISource) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Mailsac-Key", s.APIKey)
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, core.ErrMailServerUnreachable.WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return resp, fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
