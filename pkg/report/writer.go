package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/devicelab-dev/otp-handoff/pkg/logger"
)

// Writer flushes a finished report to a directory.
type Writer struct {
	Dir    string
	HTML   HTMLConfig
	Allure bool // Also write allure-results/
}

// Flush writes report.json, report.html and, when enabled, allure-results/.
func (w *Writer) Flush(r *Report) error {
	if err := ensureDir(w.Dir); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := atomicWriteJSON(filepath.Join(w.Dir, "report.json"), r); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}
	if err := GenerateHTML(w.Dir, w.HTML); err != nil {
		return fmt.Errorf("generate html: %w", err)
	}
	if w.Allure {
		if err := GenerateAllure(w.Dir); err != nil {
			return fmt.Errorf("generate allure: %w", err)
		}
	}
	logger.Info("report written to %s", w.Dir)
	return nil
}

// ReadReport loads report.json from dir.
func ReadReport(dir string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(dir, "report.json")) //#nosec G304 -- report dir chosen by user
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report.json: %w", err)
	}
	return &r, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SaveAttachment writes data to assets/<scenarioID>/<name> under dir and
// returns the path relative to dir.
func SaveAttachment(dir, scenarioID, name string, data []byte) (string, error) {
	rel := filepath.Join("assets", unsafeName.ReplaceAllString(scenarioID, "_"), unsafeName.ReplaceAllString(name, "_"))
	abs := filepath.Join(dir, rel)
	if err := ensureDir(filepath.Dir(abs)); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// atomicWriteJSON writes v to a temp file and renames it into place, so a
// reader never sees a partial report.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
