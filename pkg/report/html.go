package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath  string // Path to write the HTML file
	EmbedAssets bool   // Embed screenshots as base64 (makes file larger but portable)
	Title       string // Report title (default: "OTP Handoff Report")
	ReportDir   string // Directory containing report.json (needed for asset paths)
	Now         func() time.Time
}

// GenerateHTML generates an HTML report from the report directory.
func GenerateHTML(reportDir string, cfg HTMLConfig) error {
	r, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = "OTP Handoff Report"
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = reportDir
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(reportDir, "report.html")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	html, err := renderHTML(buildHTMLData(r, cfg))
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Report        *Report
	Scenarios     []ScenarioHTMLData
	TotalDuration string
}

// ScenarioHTMLData contains scenario data formatted for HTML.
type ScenarioHTMLData struct {
	Scenario
	StatusClass string
	DurationStr string
	Rows        []RowHTMLData
}

// RowHTMLData is one line of the two-column step table.
type RowHTMLData struct {
	Description string
	Outcome     string
	Class       string // pass, fail, info
	Image       string // base64 data URI or relative path
}

func buildHTMLData(r *Report, cfg HTMLConfig) HTMLData {
	scenarios := make([]ScenarioHTMLData, len(r.Scenarios))
	for i, sc := range r.Scenarios {
		rows := make([]RowHTMLData, 0, len(sc.Entries))
		for _, e := range sc.Entries {
			row := RowHTMLData{
				Description: e.Description,
				Outcome:     string(e.Outcome),
				Class:       outcomeClass(e.Outcome),
			}
			if e.Attachment != "" {
				if cfg.EmbedAssets {
					row.Image = loadAsBase64(filepath.Join(cfg.ReportDir, e.Attachment))
				} else {
					row.Image = e.Attachment
				}
			}
			rows = append(rows, row)
		}
		d := sc.Duration
		scenarios[i] = ScenarioHTMLData{
			Scenario:    sc,
			StatusClass: string(sc.Status),
			DurationStr: formatDuration(&d),
			Rows:        rows,
		}
	}

	var total *int64
	if r.EndTime != nil {
		ms := r.EndTime.Sub(r.StartTime).Milliseconds()
		total = &ms
	}

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   cfg.Now().Format("2006-01-02 15:04:05"),
		Report:        r,
		Scenarios:     scenarios,
		TotalDuration: formatDuration(total),
	}
}

func outcomeClass(o core.Outcome) string {
	switch o {
	case core.OutcomePass:
		return "pass"
	case core.OutcomeFail:
		return "fail"
	default:
		return "info"
	}
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", *ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func loadAsBase64(path string) string {
	data, err := os.ReadFile(path) //#nosec G304 -- path inside the report dir
	if err != nil {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := "image/png"
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"imgsrc": func(s string) template.URL { return template.URL(s) }, //#nosec G203
	}).Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #000000;
            --text-muted: rgb(107, 114, 128);
            --border-color: #e5e7eb;
            --passed: #22c55e;
            --passed-bg: rgba(34, 197, 94, 0.1);
            --failed: #ef4444;
            --failed-bg: rgba(239, 68, 68, 0.08);
            --info: #6b7280;
            --warned: #eab308;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
            padding: 24px;
        }
        .header { border-bottom: 1px solid var(--border-color); padding-bottom: 16px; margin-bottom: 24px; }
        .header h1 { font-size: 20px; }
        .meta { color: var(--text-muted); font-size: 13px; }
        .summary span { margin-right: 16px; font-weight: 600; }
        .summary .passed { color: var(--passed); }
        .summary .failed { color: var(--failed); }
        .summary .warned { color: var(--warned); }
        .scenario { margin-bottom: 32px; }
        .scenario h2 { font-size: 16px; margin-bottom: 4px; }
        .scenario h2 .badge { font-size: 12px; padding: 2px 8px; border-radius: 4px; margin-left: 8px; }
        .badge.passed { background: var(--passed-bg); color: var(--passed); }
        .badge.failed { background: var(--failed-bg); color: var(--failed); }
        .badge.warned, .badge.skipped { color: var(--warned); }
        .error { color: var(--failed); font-size: 13px; margin-bottom: 8px; }
        table { border-collapse: collapse; width: 100%; max-width: 960px; }
        th, td { border: 1px solid var(--border-color); padding: 6px 10px; text-align: left; font-size: 14px; }
        th { background: var(--bg-secondary); }
        td.status { width: 90px; font-weight: 600; text-align: center; }
        tr.pass td.status { color: var(--passed); background: var(--passed-bg); }
        tr.fail td.status { color: var(--failed); background: var(--failed-bg); }
        tr.info td.status { color: var(--info); }
        td img { display: block; max-width: 480px; margin-top: 6px; border: 1px solid var(--border-color); }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <div class="meta">
            Run {{.Report.RunID}} &middot; generated {{.GeneratedAt}} &middot; {{.TotalDuration}}
            {{with .Report.Platform}}&middot; {{.Platform}} via {{.Backend}}{{if .DeviceName}} ({{.DeviceName}}){{end}}{{end}}
        </div>
        <div class="summary">
            <span>{{.Report.Summary.Total}} scenarios</span>
            <span class="passed">{{.Report.Summary.Passed}} passed</span>
            <span class="failed">{{.Report.Summary.Failed}} failed</span>
            {{if .Report.Summary.Warned}}<span class="warned">{{.Report.Summary.Warned}} warned</span>{{end}}
        </div>
    </div>
    {{range .Scenarios}}
    <div class="scenario" id="{{.ID}}">
        <h2>{{.Name}}<span class="badge {{.StatusClass}}">{{.Status}}</span></h2>
        <div class="meta">{{.SourceFile}} &middot; {{.DurationStr}}</div>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        <table>
            <thead><tr><th>Step</th><th>Status</th></tr></thead>
            <tbody>
            {{range .Rows}}
                <tr class="{{.Class}}">
                    <td>{{.Description}}{{if .Image}}<img src="{{imgsrc .Image}}" alt="{{.Description}}">{{end}}</td>
                    <td class="status">{{.Outcome}}</td>
                </tr>
            {{else}}
                <tr class="info"><td>No steps recorded</td><td class="status">INFO</td></tr>
            {{end}}
            </tbody>
        </table>
    </div>
    {{end}}
</body>
</html>
`
