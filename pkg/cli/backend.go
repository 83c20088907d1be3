package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/devicelab-dev/otp-handoff/pkg/config"
	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/driver/appium"
	"github.com/devicelab-dev/otp-handoff/pkg/driver/browser"
	"github.com/devicelab-dev/otp-handoff/pkg/driver/mock"
	"github.com/devicelab-dev/otp-handoff/pkg/executor"
	"github.com/devicelab-dev/otp-handoff/pkg/flow"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
)

// platformMock runs scenarios against the in-memory backend.
const platformMock = "mock"

// backendFactory opens the backend for each scenario. caps come from --caps
// and are layered between the workspace config and the scenario's own.
func backendFactory(cfg *config.Config, caps map[string]interface{}, out *printer) executor.BackendFactory {
	return func(ctx context.Context, sc *flow.Scenario) (core.Backend, error) {
		platform := strings.ToLower(sc.Config.Platform)
		if platform == "" {
			platform = cfg.Platform
		}

		switch platform {
		case platformMock:
			return mock.New(mock.Config{Platform: platformMock}), nil

		case flow.PlatformWeb:
			out.printf("  %s⏳%s Starting Chrome...\n", out.c(colorCyan), out.c(colorReset))
			b, err := browser.New(ctx, browser.Config{
				Headless:    cfg.Browser.Headless,
				ExecPath:    cfg.Browser.ExecPath,
				UserDataDir: cfg.Browser.UserDataDir,
			})
			if err != nil {
				return nil, fmt.Errorf("start browser: %w", err)
			}
			return b, nil

		case flow.PlatformAndroid, flow.PlatformIOS, flow.PlatformWindows:
			all := buildCapabilities(platform, sc.Config.AppID, cfg.Appium.Capabilities, caps, sc.Config.Capabilities)
			out.printf("  %s⏳%s Connecting to %s\n", out.c(colorCyan), out.c(colorReset), cfg.Appium.URL)
			logger.Info("creating session at %s with capabilities: %v", cfg.Appium.URL, all)
			d, err := appium.NewDriver(ctx, appium.Config{ServerURL: cfg.Appium.URL, Capabilities: all})
			if err != nil {
				logger.Error("create session: %v", err)
				return nil, fmt.Errorf("create session: %w", err)
			}
			return d, nil

		case "":
			return nil, core.ErrMissingRequired.WithMessage("no platform: set it in the scenario or pass --platform")
		default:
			return nil, core.ErrUnsupported.WithMessage(fmt.Sprintf("unsupported platform: %s", platform))
		}
	}
}

// inboxBackendFactory opens a dedicated Chrome for the web inbox source so
// the mailbox page never takes over the app under test.
func inboxBackendFactory(cfg *config.Config) executor.InboxBackendFactory {
	return func(ctx context.Context) (core.Backend, error) {
		if cfg.Platform == platformMock {
			return mock.New(mock.Config{Platform: platformMock}), nil
		}
		dir := cfg.Browser.UserDataDir
		if dir == "" {
			dir = config.GetBrowserProfileDir()
		}
		return browser.New(ctx, browser.Config{
			Headless:    cfg.Browser.Headless,
			ExecPath:    cfg.Browser.ExecPath,
			UserDataDir: dir,
		})
	}
}

// buildCapabilities merges capability layers in increasing priority and
// fills the defaults each platform needs.
func buildCapabilities(platform, appID string, layers ...map[string]interface{}) map[string]interface{} {
	caps := make(map[string]interface{})
	for _, l := range layers {
		for k, v := range l {
			caps[k] = v
		}
	}

	switch platform {
	case flow.PlatformAndroid:
		setDefault(caps, "platformName", "Android")
		setDefault(caps, "appium:automationName", "UiAutomator2")
		// Auto-grant permissions by default (caps can still set false)
		setDefault(caps, "appium:autoGrantPermissions", true)
		if appID != "" {
			caps["appium:appPackage"] = appID
		}
	case flow.PlatformIOS:
		setDefault(caps, "platformName", "iOS")
		setDefault(caps, "appium:automationName", "XCUITest")
		if appID != "" {
			caps["appium:bundleId"] = appID
		}
	case flow.PlatformWindows:
		setDefault(caps, "platformName", "Windows")
		setDefault(caps, "appium:automationName", "Windows")
		if appID != "" {
			caps["appium:app"] = appID
		}
	}
	return caps
}

func setDefault(caps map[string]interface{}, key string, value interface{}) {
	if _, ok := caps[key]; !ok {
		caps[key] = value
	}
}
