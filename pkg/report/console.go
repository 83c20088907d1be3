package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"golang.org/x/term"
)

const (
	ansiReset = "\033[0m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiGray  = "\033[90m"
)

// Console echoes step log entries as "description: STATUS" lines.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewConsole writes to w, coloured when color is true.
func NewConsole(w io.Writer, color bool) *Console {
	return &Console{w: w, color: color}
}

// NewStdoutConsole writes to stdout and colours output only on a terminal.
// NO_COLOR, CLICOLOR_FORCE and CLICOLOR are respected; noColor forces plain text.
func NewStdoutConsole(noColor bool) *Console {
	return NewConsole(os.Stdout, !noColor && ShouldUseColor(os.Stdout))
}

// ShouldUseColor reports whether ANSI colours should be written to f.
func ShouldUseColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Print writes one entry. It has the signature StepLog.OnEntry expects.
func (c *Console) Print(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := string(e.Outcome)
	if c.color {
		status = outcomeColor(e.Outcome) + status + ansiReset
	}
	fmt.Fprintf(c.w, "%s: %s\n", e.Description, status)
}

func outcomeColor(o core.Outcome) string {
	switch o {
	case core.OutcomePass:
		return ansiGreen
	case core.OutcomeFail:
		return ansiRed
	default:
		return ansiGray
	}
}
