// Package cli provides the command-line interface for otp-handoff.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands. They override the workspace
// config file and its environment variables.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to handoff.yaml or handoff.toml (default: look in the working directory)",
		EnvVars: []string{"HANDOFF_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Default platform for scenarios without one (android, ios, windows, web)",
	},
	&cli.StringFlag{
		Name:  "appium-url",
		Usage: "Appium / W3C WebDriver server URL",
	},
	&cli.BoolFlag{
		Name:  "headless",
		Usage: "Run Chrome in headless mode",
	},
	&cli.StringFlag{
		Name:  "source",
		Usage: "Inbox source: web, api, imap or mbox",
	},
	&cli.DurationFlag{
		Name:  "max-wait",
		Usage: "How long to poll the inbox for a message",
	},
	&cli.DurationFlag{
		Name:  "interval",
		Usage: "Time between inbox polls",
	},
	&cli.StringFlag{
		Name:  "webmail-url",
		Usage: "Webmail page for the web source",
	},
	&cli.StringFlag{
		Name:  "api-url",
		Usage: "mailsac API base URL for the api source",
	},
	&cli.StringFlag{
		Name:  "api-key",
		Usage: "mailsac API key for the api source",
	},
	&cli.StringFlag{
		Name:  "mbox",
		Usage: "mbox spool file for the mbox source",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"HANDOFF_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "handoff",
		Usage:   "Retrieve one-time passcodes from an inbox and hand them to an app under test",
		Version: Version,
		Description: `handoff runs YAML scenarios against mobile, desktop and web apps.
A scenario can generate a throwaway mailbox, wait for the verification
email, extract the code and type it into another window.

Examples:
  handoff run signup.yaml
  handoff run scenarios/ -e PLAN=pro --include-tags smoke
  handoff --source api otp abcdtest@mailsac.com
  handoff mailbox --name`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			runCommand,
			otpCommand,
			mailboxCommand,
			reportCommand,
			validateCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
