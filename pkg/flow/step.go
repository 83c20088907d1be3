package flow

import "time"

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// App & window
	StepLaunchApp   StepType = "launchApp"
	StepOpenLink    StepType = "openLink"
	StepFocusWindow StepType = "focusWindow"

	// Interaction
	StepTapOn       StepType = "tapOn"
	StepLongPressOn StepType = "longPressOn"
	StepInputText   StepType = "inputText"
	StepBack        StepType = "back"
	StepPressKey    StepType = "pressKey"

	// Assertions & waits
	StepAssertVisible StepType = "assertVisible"
	StepWaitFor       StepType = "waitFor"

	// Media
	StepTakeScreenshot StepType = "takeScreenshot"

	// Test data
	StepGenerateMailbox StepType = "generateMailbox"
	StepGenerateName    StepType = "generateName"

	// OTP
	StepFetchOtp StepType = "fetchOtp"
	StepHandoff  StepType = "handoff"

	// Scripting
	StepEvalScript StepType = "evalScript"
)

// Default variable names written by data-producing steps.
const (
	VarMailbox    = "MAILBOX"
	VarFirstName  = "FIRST_NAME"
	VarLastName   = "LAST_NAME"
	VarOTP        = "OTP"
	VarVerifyLink = "VERIFY_LINK"
)

// Step is the interface for all scenario steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
	// Timeout returns the per-step timeout, or 0 to use the configured default.
	Timeout() time.Duration
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// Timeout returns TimeoutMs as a duration.
func (b *BaseStep) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// ============================================
// App & Window Steps
// ============================================

// LaunchAppStep launches an app.
type LaunchAppStep struct {
	BaseStep  `yaml:",inline"`
	AppID     string         `yaml:"appId"`
	Arguments map[string]any `yaml:"arguments"`
}

// OpenLinkStep opens a URL.
type OpenLinkStep struct {
	BaseStep `yaml:",inline"`
	Link     string `yaml:"link"`
}

// FocusWindowStep brings a window (or app context) whose title matches to the front.
type FocusWindowStep struct {
	BaseStep `yaml:",inline"`
	Title    string `yaml:"title"` // Regular expression matched against the whole title
}

// ============================================
// Interaction Steps
// ============================================

// TapOnStep taps on an element, or on a point when Point is set.
type TapOnStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
	Point    string   `yaml:"point"` // "x,y" in pixels
}

// LongPressOnStep long-presses an element or a point.
type LongPressOnStep struct {
	BaseStep   `yaml:",inline"`
	Selector   Selector `yaml:",inline"`
	Point      string   `yaml:"point"`
	DurationMs int      `yaml:"duration"`
}

// InputTextStep types text into the focused control, or into Into when set.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string    `yaml:"text"`
	Into     *Selector `yaml:"into"`
	Paste    bool      `yaml:"paste"` // Deliver through the clipboard
}

// BackStep navigates back.
type BackStep struct {
	BaseStep `yaml:",inline"`
}

// PressKeyStep presses a key.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
}

// ============================================
// Assertion & Wait Steps
// ============================================

// AssertVisibleStep asserts an element is visible.
type AssertVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:",inline"`
}

// WaitForStep waits for a control to reach a state, or pauses for Duration
// when no selector is given.
type WaitForStep struct {
	BaseStep   `yaml:",inline"`
	Selector   Selector `yaml:",inline"`
	State      string   `yaml:"state"` // exists, visible, enabled, ready
	DurationMs int      `yaml:"duration"`
}

// ============================================
// Media Steps
// ============================================

// TakeScreenshotStep takes a screenshot.
type TakeScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Path     string `yaml:"path"`
}

// ============================================
// Test Data Steps
// ============================================

// GenerateMailboxStep creates a random disposable mailbox address.
type GenerateMailboxStep struct {
	BaseStep `yaml:",inline"`
	Domain   string `yaml:"domain"`
	Length   int    `yaml:"length"` // Random prefix length
	Output   string `yaml:"output"` // Variable name, default MAILBOX
}

// OutputVar returns the variable the mailbox is stored in.
func (s *GenerateMailboxStep) OutputVar() string {
	if s.Output != "" {
		return s.Output
	}
	return VarMailbox
}

// GenerateNameStep creates a random capitalised first and last name.
type GenerateNameStep struct {
	BaseStep `yaml:",inline"`
	Length   int    `yaml:"length"`
	First    string `yaml:"first"` // Variable name, default FIRST_NAME
	Last     string `yaml:"last"`  // Variable name, default LAST_NAME
}

// OutputVars returns the first and last name variables.
func (s *GenerateNameStep) OutputVars() (string, string) {
	first, last := s.First, s.Last
	if first == "" {
		first = VarFirstName
	}
	if last == "" {
		last = VarLastName
	}
	return first, last
}

// ============================================
// OTP Steps
// ============================================

// FetchOtpStep polls an inbox for a message and extracts a code from it.
type FetchOtpStep struct {
	BaseStep   `yaml:",inline"`
	Mailbox    string `yaml:"mailbox"`  // Default ${MAILBOX}
	Source     string `yaml:"source"`   // web, api, imap, mbox; default from config
	MaxWaitMs  int    `yaml:"maxWait"`  // Polling budget
	IntervalMs int    `yaml:"interval"` // Time between attempts
	Pattern    string `yaml:"pattern"`  // Custom code regexp with one capture group
	Output     string `yaml:"output"`   // Variable name, default OTP
}

// OutputVar returns the variable the code is stored in.
func (s *FetchOtpStep) OutputVar() string {
	if s.Output != "" {
		return s.Output
	}
	return VarOTP
}

// HandoffStep delivers a code into a form in another window and confirms it.
type HandoffStep struct {
	BaseStep    `yaml:",inline"`
	Code        string    `yaml:"code"`   // Default ${OTP}
	Window      string    `yaml:"window"` // Title regexp; empty keeps the current window
	Input       Selector  `yaml:"input"`
	Submit      *Selector `yaml:"submit"`
	Paste       bool      `yaml:"paste"`
	AcceptAlert bool      `yaml:"acceptAlert"`
}

// ============================================
// Scripting Steps
// ============================================

// EvalScriptStep evaluates JavaScript.
type EvalScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// ============================================
// Describe() implementations for detailed output
// ============================================

// Describe returns a human-readable description of the launch app step.
func (s *LaunchAppStep) Describe() string {
	if s.AppID != "" {
		return "launchApp: " + s.AppID
	}
	return "launchApp"
}

// Describe returns a human-readable description of the open link step.
func (s *OpenLinkStep) Describe() string {
	return "openLink: " + s.Link
}

// Describe returns a human-readable description of the focus window step.
func (s *FocusWindowStep) Describe() string {
	return "focusWindow: \"" + s.Title + "\""
}

// Describe returns a human-readable description of the tap step.
func (s *TapOnStep) Describe() string {
	if s.Point != "" {
		return "tapOn: point " + s.Point
	}
	return "tapOn: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the long press step.
func (s *LongPressOnStep) Describe() string {
	if s.Point != "" {
		return "longPressOn: point " + s.Point
	}
	return "longPressOn: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the input text step.
func (s *InputTextStep) Describe() string {
	verb := "inputText"
	if s.Paste {
		verb = "inputText (paste)"
	}
	if s.Into != nil {
		return verb + ": \"" + s.Text + "\" into " + s.Into.DescribeQuoted()
	}
	return verb + ": \"" + s.Text + "\""
}

// Describe returns a human-readable description of the press key step.
func (s *PressKeyStep) Describe() string {
	return "pressKey: " + s.Key
}

// Describe returns a human-readable description of the assert visible step.
func (s *AssertVisibleStep) Describe() string {
	return "assertVisible: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the wait step.
func (s *WaitForStep) Describe() string {
	if s.Selector.IsEmpty() {
		return "waitFor: " + (time.Duration(s.DurationMs) * time.Millisecond).String()
	}
	state := s.State
	if state == "" {
		state = "visible"
	}
	return "waitFor: " + s.Selector.DescribeQuoted() + " " + state
}

// Describe returns a human-readable description of the screenshot step.
func (s *TakeScreenshotStep) Describe() string {
	if s.Path != "" {
		return "takeScreenshot: " + s.Path
	}
	return "takeScreenshot"
}

// Describe returns a human-readable description of the mailbox step.
func (s *GenerateMailboxStep) Describe() string {
	return "generateMailbox -> ${" + s.OutputVar() + "}"
}

// Describe returns a human-readable description of the name step.
func (s *GenerateNameStep) Describe() string {
	first, last := s.OutputVars()
	return "generateName -> ${" + first + "} ${" + last + "}"
}

// Describe returns a human-readable description of the fetch step.
func (s *FetchOtpStep) Describe() string {
	if s.Mailbox != "" {
		return "fetchOtp: " + s.Mailbox
	}
	return "fetchOtp"
}

// Describe returns a human-readable description of the handoff step.
func (s *HandoffStep) Describe() string {
	if s.Window != "" {
		return "handoff: \"" + s.Window + "\" " + s.Input.DescribeQuoted()
	}
	return "handoff: " + s.Input.DescribeQuoted()
}
