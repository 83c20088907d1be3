// Package config handles configuration for otp-handoff.
//
// Values are layered: built-in defaults, then handoff.yaml / handoff.yml /
// handoff.toml from the working directory, then environment variables. CLI
// flags are applied last by the cli package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults for the mailsac test inbox.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultShortTimeout = 10 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultOTPMaxWait   = 120 * time.Second
	DefaultPrefixLength = 4
	DefaultNameLength   = 6
	DefaultDomain       = "mailsac.com"
	DefaultMailboxTag   = "test"
	DefaultWebmailURL   = "https://mailsac.com"
	DefaultAPIBaseURL   = "https://mailsac.com/api"
	DefaultAppiumURL    = "http://127.0.0.1:4723"
)

// Inbox source names.
const (
	SourceWeb  = "web"
	SourceAPI  = "api"
	SourceIMAP = "imap"
	SourceMbox = "mbox"
)

// Config represents the workspace configuration (handoff.yaml or handoff.toml).
type Config struct {
	// Scenario selection
	Scenarios   []string `yaml:"scenarios" toml:"scenarios"`       // Files or directories
	IncludeTags []string `yaml:"includeTags" toml:"include_tags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags" toml:"exclude_tags"` // Tags to exclude

	// Execution settings
	Env      map[string]string `yaml:"env" toml:"env"`
	Platform string            `yaml:"platform" toml:"platform" env:"HANDOFF_PLATFORM"`

	Timeouts Timeouts       `yaml:"timeouts" toml:"timeouts"`
	Inbox    InboxConfig    `yaml:"inbox" toml:"inbox"`
	OTP      OTPConfig      `yaml:"otp" toml:"otp"`
	Identity IdentityConfig `yaml:"identity" toml:"identity"`
	Appium   AppiumConfig   `yaml:"appium" toml:"appium"`
	Browser  BrowserConfig  `yaml:"browser" toml:"browser"`
	Report   ReportConfig   `yaml:"report" toml:"report"`

	LogLevel string `yaml:"logLevel" toml:"log_level" env:"HANDOFF_LOG_LEVEL"`
}

// Timeouts bounds every wait a scenario makes.
type Timeouts struct {
	Default time.Duration `yaml:"default" toml:"default" env:"HANDOFF_TIMEOUT"`
	Short   time.Duration `yaml:"short" toml:"short" env:"HANDOFF_SHORT_TIMEOUT"`
}

// InboxConfig selects and configures the inbox source polled by fetchOtp.
type InboxConfig struct {
	Source   string        `yaml:"source" toml:"source" env:"HANDOFF_INBOX_SOURCE"`
	MaxWait  time.Duration `yaml:"maxWait" toml:"max_wait" env:"HANDOFF_INBOX_MAX_WAIT"`
	Interval time.Duration `yaml:"interval" toml:"interval" env:"HANDOFF_INBOX_INTERVAL"`

	WebURL     string `yaml:"webUrl" toml:"web_url" env:"HANDOFF_WEBMAIL_URL"`
	APIBaseURL string `yaml:"apiBaseUrl" toml:"api_base_url" env:"MAILSAC_API_URL"`
	APIKey     string `yaml:"apiKey" toml:"api_key" env:"MAILSAC_API_KEY"`

	IMAP IMAPConfig `yaml:"imap" toml:"imap"`

	MboxPath string `yaml:"mboxPath" toml:"mbox_path" env:"HANDOFF_MBOX_PATH"`
}

// IMAPConfig holds IMAP server settings.
type IMAPConfig struct {
	Addr     string `yaml:"addr" toml:"addr" env:"IMAP_ADDR"` // host:port
	Username string `yaml:"username" toml:"username" env:"IMAP_USERNAME"`
	Password string `yaml:"password" toml:"password" env:"IMAP_PASSWORD"`
	Mailbox  string `yaml:"mailbox" toml:"mailbox" env:"IMAP_MAILBOX"`
	Insecure bool   `yaml:"insecure" toml:"insecure" env:"IMAP_INSECURE"` // Plain TCP instead of TLS
}

// OTPConfig customises code extraction.
type OTPConfig struct {
	// Pattern overrides the 4-8 digit rule. At most one capture group; when present it selects the code.
	Pattern string `yaml:"pattern" toml:"pattern" env:"HANDOFF_OTP_PATTERN"`
}

// IdentityConfig shapes generated mailboxes and names.
type IdentityConfig struct {
	Domain       string `yaml:"domain" toml:"domain" env:"HANDOFF_MAILBOX_DOMAIN"`
	PrefixLength int    `yaml:"prefixLength" toml:"prefix_length" env:"HANDOFF_MAILBOX_PREFIX_LENGTH"`
	Tag          string `yaml:"tag" toml:"tag" env:"HANDOFF_MAILBOX_TAG"` // Fixed text after the random prefix
	NameLength   int    `yaml:"nameLength" toml:"name_length" env:"HANDOFF_NAME_LENGTH"`
}

// AppiumConfig points at a W3C WebDriver server (Appium, Windows driver).
type AppiumConfig struct {
	URL          string                 `yaml:"url" toml:"url" env:"HANDOFF_APPIUM_URL"`
	Capabilities map[string]interface{} `yaml:"capabilities" toml:"capabilities"`
}

// BrowserConfig configures the Chrome backend.
type BrowserConfig struct {
	Headless    bool   `yaml:"headless" toml:"headless" env:"HANDOFF_HEADLESS"`
	ExecPath    string `yaml:"execPath" toml:"exec_path" env:"HANDOFF_CHROME_PATH"`
	UserDataDir string `yaml:"userDataDir" toml:"user_data_dir" env:"HANDOFF_CHROME_PROFILE"`
}

// ReportConfig controls report output and upload.
type ReportConfig struct {
	Dir      string `yaml:"dir" toml:"dir" env:"HANDOFF_REPORT_DIR"`
	Allure   bool   `yaml:"allure" toml:"allure" env:"HANDOFF_ALLURE"`
	S3Bucket string `yaml:"s3Bucket" toml:"s3_bucket" env:"HANDOFF_S3_BUCKET"`
	S3Prefix string `yaml:"s3Prefix" toml:"s3_prefix" env:"HANDOFF_S3_PREFIX"`
	S3Region string `yaml:"s3Region" toml:"s3_region" env:"HANDOFF_S3_REGION"`

	// S3Endpoint targets S3-compatible stores such as MinIO
	S3Endpoint string `yaml:"s3Endpoint" toml:"s3_endpoint" env:"HANDOFF_S3_ENDPOINT"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Timeouts: Timeouts{
			Default: DefaultTimeout,
			Short:   DefaultShortTimeout,
		},
		Inbox: InboxConfig{
			Source:     SourceWeb,
			MaxWait:    DefaultOTPMaxWait,
			Interval:   DefaultPollInterval,
			WebURL:     DefaultWebmailURL,
			APIBaseURL: DefaultAPIBaseURL,
			IMAP:       IMAPConfig{Mailbox: "INBOX"},
		},
		Identity: IdentityConfig{
			Domain:       DefaultDomain,
			PrefixLength: DefaultPrefixLength,
			Tag:          DefaultMailboxTag,
			NameLength:   DefaultNameLength,
		},
		Appium:   AppiumConfig{URL: DefaultAppiumURL},
		LogLevel: "info",
	}
}

// Load loads configuration from a file on top of the defaults. The format
// is chosen by extension: .toml is TOML, anything else is YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// configNames lists the files LoadFromDir looks for, in priority order.
var configNames = []string{"handoff.yaml", "handoff.yml", "handoff.toml"}

// FindInDir returns the first config file present in dir, or "".
func FindInDir(dir string) string {
	for _, name := range configNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromDir looks for handoff.yaml, handoff.yml or handoff.toml in dir.
// Defaults are returned when none exists.
func LoadFromDir(dir string) (*Config, error) {
	if p := FindInDir(dir); p != "" {
		return Load(p)
	}
	return Default(), nil
}

// ApplyEnv overlays environment variables onto cfg. Unset variables leave
// the existing value alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve loads path (or the first config file in dir when path is empty),
// applies the environment and validates the result.
func Resolve(path, dir string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = Load(path)
	} else {
		cfg, err = LoadFromDir(dir)
	}
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the values are usable.
func (c *Config) Validate() error {
	var problems []string

	if c.Timeouts.Default <= 0 {
		problems = append(problems, "timeouts.default must be positive")
	}
	if c.Timeouts.Short <= 0 {
		problems = append(problems, "timeouts.short must be positive")
	}
	if c.Inbox.MaxWait <= 0 {
		problems = append(problems, "inbox.maxWait must be positive")
	}
	if c.Inbox.Interval <= 0 {
		problems = append(problems, "inbox.interval must be positive")
	}

	switch c.Inbox.Source {
	case SourceWeb, SourceAPI:
	case SourceIMAP:
		if c.Inbox.IMAP.Addr == "" {
			problems = append(problems, "inbox.imap.addr is required for the imap source")
		}
	case SourceMbox:
		if c.Inbox.MboxPath == "" {
			problems = append(problems, "inbox.mboxPath is required for the mbox source")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown inbox source %q", c.Inbox.Source))
	}

	if c.Identity.PrefixLength <= 0 {
		problems = append(problems, "identity.prefixLength must be positive")
	}
	if c.Identity.NameLength <= 0 {
		problems = append(problems, "identity.nameLength must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ReportDir returns the configured report directory, or <home>/reports.
func (c *Config) ReportDir() string {
	if c.Report.Dir != "" {
		return c.Report.Dir
	}
	return GetReportsDir()
}
