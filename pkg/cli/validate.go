package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check scenario files without running them",
	ArgsUsage: "<scenario-file-or-folder>...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only check scenarios with one of these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Skip scenarios with any of these tags",
		},
	},
	Action: validateScenarios,
}

func validateScenarios(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one scenario file or folder is required")
	}
	out := newPrinter(c.App.Writer, getBool(c, "no-ansi"))

	scenarios, err := collectScenarios(c.Args().Slice(), c.StringSlice("include-tags"), c.StringSlice("exclude-tags"), out)
	if err != nil {
		return err
	}
	for _, sc := range scenarios {
		out.printf("  %s✓%s %s %s(%d steps)%s\n", out.c(colorGreen), out.c(colorReset), sc.SourcePath, out.c(colorGray), len(sc.Steps), out.c(colorReset))
	}
	out.printf("%d scenario(s) valid\n", len(scenarios))
	return nil
}
