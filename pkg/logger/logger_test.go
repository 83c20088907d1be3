package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Info("polling %s", "abcdtest@mailsac.com")
	Error("window %q not found", ".*HP.*")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "polling abcdtest@mailsac.com") {
		t.Errorf("log missing info line:\n%s", out)
	}
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("log missing error line:\n%s", out)
	}
	if GetWriter() == nil {
		t.Error("GetWriter() returned nil")
	}
}

func TestInit_BadPath(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "missing", "dir", "x.log")); err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()
	defer SetLevel("info") //nolint:errcheck

	if err := SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	Info("hidden")
	Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line logged at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line missing")
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	Debug("details")
	if !strings.Contains(buf.String(), "details") {
		t.Error("debug line missing at debug level")
	}

	if err := SetLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogging_BeforeInitIsNoop(t *testing.T) {
	Close()
	Info("nobody hears this")
	if Slog() == nil {
		t.Error("Slog() returned nil")
	}
}
