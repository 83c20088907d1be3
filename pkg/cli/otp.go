package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/identity"
	"github.com/devicelab-dev/otp-handoff/pkg/inbox"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/otp"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
	"github.com/devicelab-dev/otp-handoff/pkg/retry"
)

var otpCommand = &cli.Command{
	Name:      "otp",
	Usage:     "Wait for a message in a mailbox and print its code",
	ArgsUsage: "<mailbox>",
	Description: `Poll the configured inbox source until a message arrives, then print
the first 4 to 8 digit code. The step log goes to stderr so the code can
be captured from stdout.

Examples:
  handoff otp abcdtest@mailsac.com
  handoff --source api --max-wait 60s otp abcdtest`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "pattern",
			Usage: "Regular expression for the code (at most one capture group)",
		},
		&cli.BoolFlag{
			Name:  "link",
			Usage: "Also print the first https:// link in the message",
		},
	},
	Action: fetchOTP,
}

func fetchOTP(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one mailbox is required")
	}
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	mailbox, err := identity.ParseMailbox(c.Args().First(), cfg.Identity.Domain)
	if err != nil {
		return err
	}

	pattern := cfg.OTP.Pattern
	if c.IsSet("pattern") {
		pattern = c.String("pattern")
	}
	extractor, err := otp.NewExtractor(pattern)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var browser core.Backend
	if cfg.Inbox.Source == config.SourceWeb {
		if browser, err = inboxBackendFactory(cfg)(ctx); err != nil {
			return fmt.Errorf("open inbox browser: %w", err)
		}
		defer func() {
			if err := browser.Close(); err != nil {
				logger.Warn("close inbox browser: %v", err)
			}
		}()
	}
	src, err := inbox.NewSource(cfg.Inbox, browser)
	if err != nil {
		return err
	}

	out := newPrinter(c.App.ErrWriter, getBool(c, "no-ansi"))
	log := report.NewStepLog(time.Now)
	log.OnEntry(report.NewConsole(c.App.ErrWriter, out.color).Print)

	poller := inbox.NewPoller(src, retry.RealClock{}, log)
	defer func() {
		if err := poller.Close(); err != nil {
			logger.Warn("close inbox: %v", err)
		}
	}()

	retriever := &otp.Retriever{Poller: poller, Extractor: extractor, Log: log}
	res, err := retriever.Fetch(ctx, mailbox, inbox.Options{MaxWait: cfg.Inbox.MaxWait, Interval: cfg.Inbox.Interval})
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, res.Code.Value())
	if c.Bool("link") && res.Link != "" {
		fmt.Fprintln(c.App.Writer, res.Link)
	}
	return nil
}

var mailboxCommand = &cli.Command{
	Name:  "mailbox",
	Usage: "Generate disposable mailbox addresses",
	Description: `Print random addresses in the form <prefix><tag>@<domain>, using the
identity settings from the workspace config.

Examples:
  handoff mailbox
  handoff mailbox --count 3 --name`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "domain",
			Usage: "Mailbox domain",
		},
		&cli.IntFlag{
			Name:  "length",
			Usage: "Random prefix length",
		},
		&cli.IntFlag{
			Name:  "count",
			Value: 1,
			Usage: "Number of addresses",
		},
		&cli.BoolFlag{
			Name:  "name",
			Usage: "Also print a random first and last name per address",
		},
	},
	Action: generateMailboxes,
}

func generateMailboxes(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	gen := identity.Generator{
		Domain:       cfg.Identity.Domain,
		PrefixLength: cfg.Identity.PrefixLength,
		Tag:          cfg.Identity.Tag,
		NameLength:   cfg.Identity.NameLength,
	}
	if c.IsSet("domain") {
		gen.Domain = c.String("domain")
	}
	if c.IsSet("length") {
		gen.PrefixLength = c.Int("length")
	}

	for i := 0; i < c.Int("count"); i++ {
		mb, err := gen.Mailbox()
		if err != nil {
			return err
		}
		if !c.Bool("name") {
			fmt.Fprintln(c.App.Writer, mb)
			continue
		}
		first, last, err := gen.Name()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s %s\n", mb, first, last)
	}
	return nil
}
