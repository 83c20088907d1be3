package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
)

// flagContext returns the context in c's lineage where name was set, so a
// global flag given before the subcommand is still seen. Nil when unset.
func flagContext(c *cli.Context, name string) *cli.Context {
	for _, ctx := range c.Lineage() {
		if ctx != nil && ctx.IsSet(name) {
			return ctx
		}
	}
	return nil
}

func getString(c *cli.Context, name string) string {
	if ctx := flagContext(c, name); ctx != nil {
		return ctx.String(name)
	}
	return c.String(name)
}

func getBool(c *cli.Context, name string) bool {
	if ctx := flagContext(c, name); ctx != nil {
		return ctx.Bool(name)
	}
	return c.Bool(name)
}

// loadSettings resolves the workspace config: defaults, config file,
// environment, then any global flags that were set.
func loadSettings(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := getString(c, "config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	applyFlags(c, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if getBool(c, "verbose") {
		cfg.LogLevel = "debug"
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("%v", err)
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if ctx := flagContext(c, "platform"); ctx != nil {
		cfg.Platform = strings.ToLower(ctx.String("platform"))
	}
	if ctx := flagContext(c, "appium-url"); ctx != nil {
		cfg.Appium.URL = ctx.String("appium-url")
	}
	if ctx := flagContext(c, "headless"); ctx != nil {
		cfg.Browser.Headless = ctx.Bool("headless")
	}
	if ctx := flagContext(c, "source"); ctx != nil {
		cfg.Inbox.Source = strings.ToLower(ctx.String("source"))
	}
	if ctx := flagContext(c, "max-wait"); ctx != nil {
		cfg.Inbox.MaxWait = ctx.Duration("max-wait")
	}
	if ctx := flagContext(c, "interval"); ctx != nil {
		cfg.Inbox.Interval = ctx.Duration("interval")
	}
	if ctx := flagContext(c, "webmail-url"); ctx != nil {
		cfg.Inbox.WebURL = ctx.String("webmail-url")
	}
	if ctx := flagContext(c, "api-url"); ctx != nil {
		cfg.Inbox.APIBaseURL = ctx.String("api-url")
	}
	if ctx := flagContext(c, "api-key"); ctx != nil {
		cfg.Inbox.APIKey = ctx.String("api-key")
	}
	if ctx := flagContext(c, "mbox"); ctx != nil {
		cfg.Inbox.MboxPath = ctx.String("mbox")
	}
}

// parseEnvVars turns KEY=VALUE pairs into a map. Entries without '=' are ignored.
func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

// loadCapabilities loads W3C capabilities from a JSON file.
func loadCapabilities(capsFile string) (map[string]interface{}, error) {
	data, err := os.ReadFile(capsFile) //#nosec G304 -- user-provided caps file
	if err != nil {
		return nil, fmt.Errorf("failed to read caps file: %w", err)
	}

	var caps map[string]interface{}
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse caps JSON: %w", err)
	}
	return caps, nil
}
