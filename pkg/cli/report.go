package cli

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Regenerate reports from a run directory",
	ArgsUsage: "<report-dir>",
	Description: `Rebuild report.html (and optionally allure-results) from the
report.json of an earlier run, and optionally upload the directory.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "embed-assets",
			Usage: "Embed screenshots in report.html",
		},
		&cli.BoolFlag{
			Name:  "allure",
			Usage: "Also write allure-results",
		},
		&cli.StringFlag{
			Name:  "s3-bucket",
			Usage: "Upload the report directory to this S3 bucket",
		},
		&cli.StringFlag{
			Name:  "s3-prefix",
			Usage: "Key prefix for the uploaded report",
		},
	},
	Action: regenerateReport,
}

func regenerateReport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one report directory is required")
	}
	dir := c.Args().First()

	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	out := newPrinter(c.App.Writer, getBool(c, "no-ansi"))

	if err := report.GenerateHTML(dir, report.HTMLConfig{EmbedAssets: c.Bool("embed-assets")}); err != nil {
		return err
	}
	out.printf("  Report: %s\n", filepath.Join(dir, "report.html"))

	if c.Bool("allure") || cfg.Report.Allure {
		if err := report.GenerateAllure(dir); err != nil {
			return err
		}
		out.printf("  Allure: %s\n", filepath.Join(dir, "allure-results"))
	}

	if c.IsSet("s3-bucket") {
		cfg.Report.S3Bucket = c.String("s3-bucket")
	}
	if c.IsSet("s3-prefix") {
		cfg.Report.S3Prefix = c.String("s3-prefix")
	}
	if cfg.Report.S3Bucket != "" {
		return uploadReport(c.Context, cfg, dir, out)
	}
	return nil
}
