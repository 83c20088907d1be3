package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML scenario file.
func ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided scenario file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses YAML scenario content: an optional config document, then
// "---", then the step list.
func Parse(data []byte, sourcePath string) (*Scenario, error) {
	parts := splitYAMLDocuments(string(data))

	sc := &Scenario{
		SourcePath: sourcePath,
	}

	switch len(parts) {
	case 0:
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty scenario file",
		}
	case 1:
		if err := parseSteps(parts[0], sc); err != nil {
			return nil, err
		}
	case 2:
		if err := parseConfig(parts[0], sc); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], sc); err != nil {
			return nil, err
		}
	default:
		return nil, &ParseError{
			Path:    sourcePath,
			Message: fmt.Sprintf("expected at most 2 YAML documents, got %d", len(parts)),
		}
	}

	return sc, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		} else {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if current.Len() > 0 {
		s := strings.TrimSpace(current.String())
		if s != "" {
			parts = append(parts, current.String())
		}
	}

	return parts
}

func parseConfig(content string, sc *Scenario) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	if config.Platform != "" && !isPlatform(config.Platform) {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("unknown platform %q (want android, ios, windows or web)", config.Platform),
		}
	}
	sc.Config = config
	return nil
}

func isPlatform(p string) bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWindows, PlatformWeb:
		return true
	}
	return false
}

func parseSteps(content string, sc *Scenario) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    sc.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	for _, node := range rawSteps {
		step, err := parseStep(&node, sc.SourcePath)
		if err != nil {
			return err
		}
		sc.Steps = append(sc.Steps, step)
	}

	return nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	// Handle scalar nodes like "- back" (no colon, no params)
	if node.Kind == yaml.ScalarNode {
		stepType := node.Value
		if !isStepType(stepType) {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    node.Line,
				Message: fmt.Sprintf("unknown step type: %s", stepType),
			}
		}
		emptyNode := &yaml.Node{Kind: yaml.MappingNode}
		return decodeStep(StepType(stepType), emptyNode, sourcePath)
	}

	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping or command name",
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		msg := "unknown step type"
		if len(node.Content) > 0 {
			msg = fmt.Sprintf("unknown step type: %s", node.Content[0].Value)
		}
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: msg,
		}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepLaunchApp, StepOpenLink, StepFocusWindow,
		StepTapOn, StepLongPressOn, StepInputText, StepBack, StepPressKey,
		StepAssertVisible, StepWaitFor, StepTakeScreenshot,
		StepGenerateMailbox, StepGenerateName,
		StepFetchOtp, StepHandoff, StepEvalScript:
		return true
	}
	return false
}

// decode unmarshals a mapping node into s, or hands a scalar to onScalar.
func decode(valueNode *yaml.Node, sourcePath string, s interface{}, onScalar func(string)) error {
	if valueNode.Kind == yaml.ScalarNode {
		if onScalar != nil {
			onScalar(valueNode.Value)
			return nil
		}
		if valueNode.Value == "" || valueNode.Tag == "!!null" {
			return nil
		}
		return &ParseError{
			Path:    sourcePath,
			Line:    valueNode.Line,
			Message: "expected a mapping",
		}
	}
	if err := valueNode.Decode(s); err != nil {
		return wrapParseError(sourcePath, valueNode.Line, err)
	}
	return nil
}

//nolint:gocyclo
func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	var (
		step Step
		base *BaseStep
		err  error
	)

	switch stepType {
	case StepLaunchApp:
		var s LaunchAppStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.AppID = v })
		step, base = &s, &s.BaseStep

	case StepOpenLink:
		var s OpenLinkStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Link = v })
		step, base = &s, &s.BaseStep

	case StepFocusWindow:
		var s FocusWindowStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Title = v })
		step, base = &s, &s.BaseStep

	case StepTapOn:
		var s TapOnStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Selector.Text = v })
		step, base = &s, &s.BaseStep

	case StepLongPressOn:
		var s LongPressOnStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Selector.Text = v })
		step, base = &s, &s.BaseStep

	case StepInputText:
		var s InputTextStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Text = v })
		step, base = &s, &s.BaseStep

	case StepBack:
		var s BackStep
		err = decode(valueNode, sourcePath, &s, nil)
		step, base = &s, &s.BaseStep

	case StepPressKey:
		var s PressKeyStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Key = v })
		step, base = &s, &s.BaseStep

	case StepAssertVisible:
		var s AssertVisibleStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Selector.Text = v })
		step, base = &s, &s.BaseStep

	case StepWaitFor:
		var s WaitForStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Selector.Text = v })
		step, base = &s, &s.BaseStep

	case StepTakeScreenshot:
		var s TakeScreenshotStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Path = v })
		step, base = &s, &s.BaseStep

	case StepGenerateMailbox:
		var s GenerateMailboxStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Output = v })
		step, base = &s, &s.BaseStep

	case StepGenerateName:
		var s GenerateNameStep
		err = decode(valueNode, sourcePath, &s, nil)
		step, base = &s, &s.BaseStep

	case StepFetchOtp:
		var s FetchOtpStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Mailbox = v })
		step, base = &s, &s.BaseStep

	case StepHandoff:
		var s HandoffStep
		err = decode(valueNode, sourcePath, &s, nil)
		step, base = &s, &s.BaseStep

	case StepEvalScript:
		var s EvalScriptStep
		err = decode(valueNode, sourcePath, &s, func(v string) { s.Script = v })
		step, base = &s, &s.BaseStep

	default:
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    valueNode.Line,
			Message: fmt.Sprintf("unknown step type: %s", stepType),
		}
	}

	if err != nil {
		return nil, err
	}
	base.StepType = stepType
	return step, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all YAML scenario files in a directory.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Scenario, error) {
	var scenarios []*Scenario

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !IsScenarioFile(path) {
			return nil
		}

		sc, parseErr := ParseFile(path)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, parseErr)
			return nil
		}

		if ShouldInclude(sc, includeTags, excludeTags) {
			scenarios = append(scenarios, sc)
		}
		return nil
	})

	return scenarios, err
}

// IsScenarioFile reports whether path has a YAML extension.
func IsScenarioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ShouldInclude checks if a scenario matches tag filters.
func ShouldInclude(sc *Scenario, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range sc.Config.Tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range sc.Config.Tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
