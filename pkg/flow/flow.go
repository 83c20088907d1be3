// Package flow handles parsing and representation of YAML scenario files.
package flow

// Scenario represents a parsed scenario file.
type Scenario struct {
	SourcePath string // Path to the source file
	Config     Config // Scenario configuration (platform, appId, tags, etc.)
	Steps      []Step // Steps to execute
}

// Platform names accepted in the config section.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWindows = "windows"
	PlatformWeb     = "web"
)

// Config represents scenario-level configuration.
type Config struct {
	Name         string                 `yaml:"name"`
	Tags         []string               `yaml:"tags"`
	Platform     string                 `yaml:"platform"` // android, ios, windows, web
	AppID        string                 `yaml:"appId"`    // Package, bundle id or desktop app path
	URL          string                 `yaml:"url"`      // Start page for web scenarios
	Env          map[string]string      `yaml:"env"`
	Capabilities map[string]interface{} `yaml:"capabilities"` // Extra W3C capabilities
	Timeout      int                    `yaml:"timeout"`      // Scenario timeout in ms
}

// DisplayName returns the configured name, falling back to the source path.
func (s *Scenario) DisplayName() string {
	if s.Config.Name != "" {
		return s.Config.Name
	}
	return s.SourcePath
}
