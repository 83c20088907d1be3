package inbox

import (
	"fmt"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/core"
)

// NewSource builds the Source selected by cfg. backend is only needed by
// the web source and may be nil otherwise.
func NewSource(cfg config.InboxConfig, backend core.Backend) (Source, error) {
	switch cfg.Source {
	case "", config.SourceWeb:
		if backend == nil {
			return nil, core.ErrInvalidConfig.WithMessage("web inbox source needs a browser backend")
		}
		url := cfg.WebURL
		if url == "" {
			url = config.DefaultWebmailURL
		}
		return NewWebSource(backend, MailsacPage(url)), nil
	case config.SourceAPI:
		base := cfg.APIBaseURL
		if base == "" {
			base = config.DefaultAPIBaseURL
		}
		return NewAPISource(base, cfg.APIKey), nil
	case config.SourceIMAP:
		return NewIMAPSource(IMAPOptions{
			Addr:     cfg.IMAP.Addr,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Mailbox:  cfg.IMAP.Mailbox,
			Insecure: cfg.IMAP.Insecure,
		}), nil
	case config.SourceMbox:
		return NewMboxSource(cfg.MboxPath), nil
	default:
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown inbox source %q", cfg.Source))
	}
}
