package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/executor"
	"github.com/devicelab-dev/otp-handoff/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// printer writes live progress and the final summary.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer, noANSI bool) *printer {
	useColor := false
	if f, ok := w.(*os.File); ok && !noANSI {
		useColor = report.ShouldUseColor(f)
	}
	return &printer{w: w, color: useColor}
}

func (p *printer) c(code string) string {
	if p.color {
		return code
	}
	return ""
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) onScenarioStart(idx, total int, name, file string) {
	p.printf("\n%s[%d/%d]%s %s%s%s %s(%s)%s\n",
		p.c(colorCyan), idx+1, total, p.c(colorReset),
		p.c(colorBold), name, p.c(colorReset),
		p.c(colorGray), file, p.c(colorReset))
}

// onStepComplete adds the error detail under a failed step. The step log
// console has already printed the step itself.
func (p *printer) onStepComplete(idx int, desc string, status core.StepStatus, durationMs int64, errMsg string) {
	if status != core.StatusFailed || errMsg == "" {
		return
	}
	p.printf("    %s└─ %s%s\n", p.c(colorRed), errMsg, p.c(colorReset))
}

func (p *printer) onScenarioEnd(name string, status core.StepStatus, durationMs int64) {
	label, col := statusLabel(report.StatusFrom(status))
	p.printf("  %s%s%s %s %s(%s)%s\n", p.c(col), label, p.c(colorReset), name, p.c(colorGray), formatDuration(durationMs), p.c(colorReset))
}

func statusLabel(s report.Status) (string, string) {
	switch s {
	case report.StatusFailed:
		return "✗ FAIL", colorRed
	case report.StatusSkipped:
		return "- SKIP", colorCyan
	case report.StatusWarned:
		return "⚠ WARN", colorYellow
	default:
		return "✓ PASS", colorGreen
	}
}

// printSummary prints the step totals and a per-scenario table.
func (p *printer) printSummary(result *executor.RunResult) {
	var total, passed, failed, skipped int
	for _, sc := range result.Scenarios {
		total += sc.StepsTotal
		passed += sc.StepsPassed
		failed += sc.StepsFailed
		skipped += sc.StepsSkipped
	}

	p.printf("\n")
	if passed > 0 {
		p.printf("  %s%d steps passing%s (%s)\n", p.c(colorGreen), passed, p.c(colorReset), formatDuration(result.Duration))
	}
	if failed > 0 {
		p.printf("  %s%d steps failing%s\n", p.c(colorRed), failed, p.c(colorReset))
	}
	if skipped > 0 {
		p.printf("  %s%d steps skipped%s\n", p.c(colorCyan), skipped, p.c(colorReset))
	}
	p.printf("\n")

	tableWidth := 92
	p.printf("%s\n", strings.Repeat("═", tableWidth))
	p.printf("  %-42s %6s %7s %6s %6s %6s %10s\n", "Scenario", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	p.printf("%s\n", strings.Repeat("─", tableWidth))

	for _, sc := range result.Scenarios {
		status, col := statusLabel(sc.Status)
		name := sc.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}
		p.printf("  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			name, p.c(col), status, p.c(colorReset),
			sc.StepsTotal, sc.StepsPassed, sc.StepsFailed, sc.StepsSkipped,
			formatDuration(sc.Duration))
	}

	p.printf("%s\n", strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedScenarios, result.TotalScenarios)
	statusColor := colorGreen
	if result.FailedScenarios > 0 {
		statusColor = colorRed
	}
	p.printf("  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		p.c(colorBold), "TOTAL", p.c(colorReset),
		p.c(statusColor), statusStr, p.c(colorReset),
		total, passed, failed, skipped,
		formatDuration(result.Duration))
	p.printf("%s\n", strings.Repeat("═", tableWidth))
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
