package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/executor"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
	"github.com/devicelab-dev/otp-handoff/pkg/validator"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run scenario files",
	ArgsUsage: "<scenario-file-or-folder>...",
	Description: `Run one or more scenarios. Folders are searched recursively for
.yaml and .yml files. Without arguments the scenarios listed in the
workspace config are run.

Examples:
  handoff run signup.yaml
  handoff run scenarios/ --include-tags smoke
  handoff run signup.yaml -e PLAN=pro --artifacts always`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables passed to scenarios (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only run scenarios with one of these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Skip scenarios with any of these tags",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Report directory (default: the configured report dir)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Write into --output directly instead of a timestamped subfolder",
		},
		&cli.StringFlag{
			Name:  "caps",
			Usage: "JSON file with extra W3C capabilities",
		},
		&cli.StringFlag{
			Name:  "artifacts",
			Value: "on-failure",
			Usage: "When to capture screenshots: on-failure, always or never",
		},
		&cli.BoolFlag{
			Name:  "allure",
			Usage: "Also write allure-results",
		},
		&cli.BoolFlag{
			Name:  "embed-assets",
			Usage: "Embed screenshots in report.html",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip remaining scenarios after the first failure",
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
	Action: runScenarios,
}

func runScenarios(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = cfg.Scenarios
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one scenario file or folder is required")
	}

	artifacts, err := parseArtifactMode(c.String("artifacts"))
	if err != nil {
		return err
	}

	var caps map[string]interface{}
	if capsFile := c.String("caps"); capsFile != "" {
		if caps, err = loadCapabilities(capsFile); err != nil {
			return err
		}
	}

	if env := parseEnvVars(c.StringSlice("env")); len(env) > 0 {
		if cfg.Env == nil {
			cfg.Env = make(map[string]string)
		}
		for k, v := range env {
			cfg.Env[k] = v
		}
	}
	if c.IsSet("include-tags") {
		cfg.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		cfg.ExcludeTags = c.StringSlice("exclude-tags")
	}
	if c.Bool("allure") {
		cfg.Report.Allure = true
	}
	if c.IsSet("s3-bucket") {
		cfg.Report.S3Bucket = c.String("s3-bucket")
	}
	if c.IsSet("s3-prefix") {
		cfg.Report.S3Prefix = c.String("s3-prefix")
	}

	outputDir, err := resolveOutputDir(c.String("output"), cfg.ReportDir(), c.Bool("flatten"), time.Now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := logger.Init(filepath.Join(outputDir, "handoff.log")); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	logger.Info("=== Run started ===")
	logger.Info("Output directory: %s", outputDir)

	out := newPrinter(c.App.Writer, getBool(c, "no-ansi"))

	scenarios, err := collectScenarios(paths, cfg.IncludeTags, cfg.ExcludeTags, out)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios matched")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := report.NewConsole(c.App.Writer, out.color)
	log := report.NewStepLog(time.Now)
	log.OnEntry(console.Print)

	runner := executor.New(executor.RunnerConfig{
		OutputDir:       outputDir,
		Config:          cfg,
		Backend:         backendFactory(cfg, caps, out),
		InboxBackend:    inboxBackendFactory(cfg),
		StopOnFail:      c.Bool("stop-on-fail"),
		Artifacts:       artifacts,
		Allure:          cfg.Report.Allure,
		EmbedHTML:       c.Bool("embed-assets"),
		Log:             log,
		RunnerVersion:   Version,
		OnScenarioStart: out.onScenarioStart,
		OnStepComplete:  out.onStepComplete,
		OnScenarioEnd:   out.onScenarioEnd,
	})

	result, err := runner.Run(ctx, scenarios)
	if result == nil {
		return err
	}
	if err != nil {
		logger.Error("%v", err)
		fmt.Fprintf(c.App.ErrWriter, "Warning: %v\n", err)
	}

	out.printSummary(result)
	out.printf("\n  Report: %s\n", filepath.Join(outputDir, "report.html"))
	if cfg.Report.Allure {
		out.printf("  Allure: %s\n", filepath.Join(outputDir, "allure-results"))
	}

	if cfg.Report.S3Bucket != "" {
		if err := uploadReport(ctx, cfg, outputDir, out); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Warning: %v\n", err)
		}
	}

	logger.Info("=== Run finished: %s ===", result.Status)
	if result.Status == report.StatusFailed {
		return cli.Exit("", 1)
	}
	return nil
}

// collectScenarios validates every path and returns the parsed scenarios.
// All validation errors are printed before failing.
func collectScenarios(paths, includeTags, excludeTags []string, out *printer) ([]*flow.Scenario, error) {
	v := validator.New(includeTags, excludeTags)
	var (
		scenarios []*flow.Scenario
		errs      []error
	)
	for _, p := range paths {
		res := v.Validate(p)
		scenarios = append(scenarios, res.Scenarios...)
		errs = append(errs, res.Errors...)
	}
	if len(errs) > 0 {
		for _, e := range errs {
			out.printf("  %s✗%s %v\n", out.c(colorRed), out.c(colorReset), e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}
	return scenarios, nil
}

// resolveOutputDir returns the report directory for this run: a timestamped
// folder under output (or defaultBase), or output itself when flatten is set.
func resolveOutputDir(output, defaultBase string, flatten bool, now time.Time) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = defaultBase
	}
	if flatten {
		return filepath.Clean(baseDir), nil
	}
	return filepath.Join(baseDir, now.Format("2006-01-02_15-04-05")), nil
}

func parseArtifactMode(s string) (executor.ArtifactMode, error) {
	switch s {
	case "", "on-failure":
		return executor.ArtifactOnFailure, nil
	case "always":
		return executor.ArtifactAlways, nil
	case "never":
		return executor.ArtifactNever, nil
	default:
		return 0, fmt.Errorf("invalid --artifacts value %q (want on-failure, always or never)", s)
	}
}

func uploadReport(ctx context.Context, cfg *config.Config, dir string, out *printer) error {
	rc := cfg.Report
	up, err := report.NewUploader(ctx, rc.S3Bucket, rc.S3Prefix, rc.S3Region, rc.S3Endpoint)
	if err != nil {
		return err
	}
	n, err := up.UploadDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	out.printf("  Uploaded %d files to %s\n", n, up.URL())
	return nil
}
