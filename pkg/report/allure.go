package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
	"github.com/google/uuid"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep represents a step within a test result.
type AllureStep struct {
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Stage       string             `json:"stage"`
	Start       int64              `json:"start"`
	Stop        int64              `json:"stop"`
	Steps       []AllureStep       `json:"steps"`
	Attachments []AllureAttachment `json:"attachments"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex"`
}

// GenerateAllure generates Allure-compatible report files in <reportDir>/allure-results/.
// Each scenario becomes one result; each step log entry becomes one step.
func GenerateAllure(reportDir string) error {
	r, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	allureDir := filepath.Join(reportDir, "allure-results")
	if err := os.MkdirAll(allureDir, 0o755); err != nil {
		return fmt.Errorf("create allure-results dir: %w", err)
	}

	for _, sc := range r.Scenarios {
		result := buildAllureResult(&sc, r)

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal allure result for %s: %w", sc.ID, err)
		}

		resultPath := filepath.Join(allureDir, result.UUID+"-result.json")
		if err := os.WriteFile(resultPath, data, 0o644); err != nil {
			return fmt.Errorf("write allure result %s: %w", sc.ID, err)
		}
		copyAllureAttachments(reportDir, allureDir, sc.Entries)
	}

	if err := writeAllureCategories(allureDir); err != nil {
		return err
	}
	return writeAllureEnvironment(allureDir, r)
}

// buildAllureResult builds an AllureResult from a scenario.
func buildAllureResult(sc *Scenario, r *Report) AllureResult {
	startMs := sc.StartTime.UnixMilli()
	stopMs := startMs + sc.Duration

	labels := []AllureLabel{
		{Name: "suite", Value: sc.Name},
		{Name: "parentSuite", Value: filepath.Base(sc.SourceFile)},
		{Name: "framework", Value: "otp-handoff"},
		{Name: "severity", Value: "normal"},
	}
	if r.Platform != nil {
		if r.Platform.DeviceName != "" {
			labels = append(labels, AllureLabel{Name: "host", Value: r.Platform.DeviceName})
		}
		if r.Platform.Platform != "" {
			labels = append(labels, AllureLabel{Name: "platform", Value: r.Platform.Platform})
		}
	}
	for _, tag := range sc.Tags {
		labels = append(labels, AllureLabel{Name: "tag", Value: tag})
	}

	id := sc.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(r.RunID+"/"+sc.ID)).String()
	}

	return AllureResult{
		UUID:          id,
		HistoryID:     fnv32aHash(sc.Name + ":" + sc.SourceFile),
		FullName:      sc.Name,
		Name:          sc.Name,
		Status:        mapAllureStatus(sc.Status),
		Stage:         "finished",
		Start:         startMs,
		Stop:          stopMs,
		Labels:        labels,
		StatusDetails: AllureStatusDetails{Message: sc.Error},
		Steps:         buildAllureSteps(sc.Entries, stopMs),
		Attachments:   collectAttachments(sc.Entries),
	}
}

// buildAllureSteps turns step log entries into Allure steps. An entry's stop
// time is the next entry's start; the last one ends with the scenario.
func buildAllureSteps(entries []Entry, scenarioStop int64) []AllureStep {
	steps := make([]AllureStep, 0, len(entries))
	for i, e := range entries {
		start := e.Time.UnixMilli()
		stop := scenarioStop
		if i+1 < len(entries) {
			stop = entries[i+1].Time.UnixMilli()
		}
		if stop < start {
			stop = start
		}

		var attachments []AllureAttachment
		if e.Attachment != "" {
			attachments = append(attachments, AllureAttachment{
				Name:   "Screenshot",
				Source: filepath.Base(e.Attachment),
				Type:   core.ContentTypePNG,
			})
		}

		steps = append(steps, AllureStep{
			Name:        e.Description,
			Status:      mapAllureOutcome(e.Outcome),
			Stage:       "finished",
			Start:       start,
			Stop:        stop,
			Steps:       []AllureStep{},
			Attachments: attachments,
		})
	}
	return steps
}

// collectAttachments gathers all attachments from entries (flat list for scenario-level).
func collectAttachments(entries []Entry) []AllureAttachment {
	attachments := []AllureAttachment{}
	for _, e := range entries {
		if e.Attachment != "" {
			attachments = append(attachments, AllureAttachment{
				Name:   "Screenshot",
				Source: filepath.Base(e.Attachment),
				Type:   core.ContentTypePNG,
			})
		}
	}
	return attachments
}

// copyAllureAttachments copies attachment files from assets subdirs into allure-results/ flat.
func copyAllureAttachments(reportDir, allureDir string, entries []Entry) {
	for _, e := range entries {
		if e.Attachment == "" {
			continue
		}
		src := filepath.Join(reportDir, filepath.FromSlash(e.Attachment))
		dst := filepath.Join(allureDir, filepath.Base(e.Attachment))
		copyFile(src, dst)
	}
}

// copyFile copies a single file from src to dst. A missing source is ignored.
func copyFile(src, dst string) {
	in, err := os.Open(src) //#nosec G304 -- path inside the report dir
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(dst) //#nosec G304 -- path inside the report dir
	if err != nil {
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		logger.Warn("failed to copy %s to %s: %v", src, dst, err)
	}
}

// mapAllureStatus maps report Status to Allure status string.
func mapAllureStatus(s Status) string {
	switch s {
	case StatusPassed, StatusWarned:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// mapAllureOutcome maps a step log outcome to an Allure step status.
// INFO entries are informational and count as passed.
func mapAllureOutcome(o core.Outcome) string {
	if o == core.OutcomeFail {
		return "failed"
	}
	return "passed"
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// writeAllureCategories writes categories.json for failure categorization.
func writeAllureCategories(allureDir string) error {
	categories := []AllureCategory{
		{Name: "OTP Not Found", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*otp not found.*"},
		{Name: "Window Not Found", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*window.*not found.*"},
		{Name: "Control Not Found", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*control.*not found.*"},
		{Name: "Control Not Interactive", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*not (visible|enabled|ready).*"},
		{Name: "Timeout", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*timeout.*|.*timed out.*|.*budget exhausted.*"},
		{Name: "Connection Error", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*connect.*|.*unreachable.*"},
		{Name: "Script Error", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*script.*error.*"},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	path := filepath.Join(allureDir, "categories.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}
	return nil
}

// writeAllureEnvironment writes environment.properties with platform/runner metadata.
func writeAllureEnvironment(allureDir string, r *Report) error {
	var b strings.Builder
	b.WriteString("framework=otp-handoff\n")
	b.WriteString(fmt.Sprintf("run.id=%s\n", r.RunID))

	if p := r.Platform; p != nil {
		if p.Platform != "" {
			b.WriteString(fmt.Sprintf("platform=%s\n", p.Platform))
		}
		if p.Backend != "" {
			b.WriteString(fmt.Sprintf("backend=%s\n", p.Backend))
		}
		if p.DeviceName != "" {
			b.WriteString(fmt.Sprintf("device.name=%s\n", p.DeviceName))
		}
		if p.OSVersion != "" {
			b.WriteString(fmt.Sprintf("device.osVersion=%s\n", p.OSVersion))
		}
		if p.AppID != "" {
			b.WriteString(fmt.Sprintf("app.id=%s\n", p.AppID))
		}
	}
	if r.Runner.Version != "" {
		b.WriteString(fmt.Sprintf("runner.version=%s\n", r.Runner.Version))
	}

	path := filepath.Join(allureDir, "environment.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}
