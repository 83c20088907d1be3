package appium

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devicelab-dev/otp-handoff/pkg/flow"
)

// query is one WebDriver find request. filterText is set when the server
// cannot match the selector's text pattern and the driver must do it.
type query struct {
	using      string
	value      string
	filterText bool
}

// buildQuery maps a selector to the platform's native locator strategy.
func buildQuery(platform string, sel flow.Selector) (query, error) {
	if sel.IsEmpty() {
		return query{}, fmt.Errorf("empty selector")
	}
	switch {
	case sel.XPath != "":
		return query{using: "xpath", value: sel.XPath, filterText: sel.Text != ""}, nil
	case sel.CSS != "":
		return query{using: "css selector", value: sel.CSS, filterText: sel.Text != ""}, nil
	}

	switch platform {
	case "android":
		return androidQuery(sel), nil
	case "ios":
		return iosQuery(sel), nil
	default:
		return windowsQuery(sel), nil
	}
}

// androidQuery builds a UiSelector chain, which matches text with Java
// regular expressions on the device.
func androidQuery(sel flow.Selector) query {
	if sel.ID != "" && sel.Kind == "" && sel.Text == "" && sel.Desc == "" {
		return query{using: "id", value: sel.ID}
	}
	var b strings.Builder
	b.WriteString("new UiSelector()")
	if sel.ID != "" {
		fmt.Fprintf(&b, `.resourceIdMatches("(.*:id/)?%s")`, escapeUiAutomatorString(regexp.QuoteMeta(sel.ID)))
	}
	if sel.Kind != "" {
		fmt.Fprintf(&b, `.className("%s")`, escapeUiAutomatorString(androidClass(sel.Kind)))
	}
	if sel.Desc != "" {
		fmt.Fprintf(&b, `.description("%s")`, escapeUiAutomatorString(sel.Desc))
	}
	if sel.Text != "" {
		fmt.Fprintf(&b, `.textMatches("%s")`, escapeUiAutomatorString(sel.Text))
	}
	return query{using: "-android uiautomator", value: b.String()}
}

// iosQuery builds an NSPredicate. MATCHES is a whole-string ICU regexp.
func iosQuery(sel flow.Selector) query {
	if sel.ID != "" && sel.Kind == "" && sel.Text == "" && sel.Desc == "" {
		return query{using: "accessibility id", value: sel.ID}
	}
	var terms []string
	if sel.ID != "" {
		terms = append(terms, fmt.Sprintf(`name == "%s"`, escapeIOSPredicateString(sel.ID)))
	}
	if sel.Desc != "" {
		terms = append(terms, fmt.Sprintf(`label == "%s"`, escapeIOSPredicateString(sel.Desc)))
	}
	if sel.Kind != "" {
		terms = append(terms, fmt.Sprintf(`type == "%s"`, iosType(sel.Kind)))
	}
	if sel.Text != "" {
		p := escapeIOSPredicateString(sel.Text)
		terms = append(terms, fmt.Sprintf(`(label MATCHES "%s" OR value MATCHES "%s")`, p, p))
	}
	return query{using: "-ios predicate string", value: strings.Join(terms, " AND ")}
}

// windowsQuery uses UI Automation attributes. The Windows driver has no
// regexp support, so text is filtered client side.
func windowsQuery(sel flow.Selector) query {
	if sel.ID != "" && sel.Kind == "" && sel.Desc == "" {
		return query{using: "accessibility id", value: sel.ID, filterText: sel.Text != ""}
	}
	if sel.Desc != "" && sel.Kind == "" && sel.ID == "" {
		return query{using: "name", value: sel.Desc, filterText: sel.Text != ""}
	}
	tag := "*"
	if sel.Kind != "" {
		tag = sel.Kind
	}
	var preds []string
	if sel.ID != "" {
		preds = append(preds, fmt.Sprintf("@AutomationId=%s", xpathLiteral(sel.ID)))
	}
	if sel.Desc != "" {
		preds = append(preds, fmt.Sprintf("@Name=%s", xpathLiteral(sel.Desc)))
	}
	xp := "//" + tag
	if len(preds) > 0 {
		xp += "[" + strings.Join(preds, " and ") + "]"
	}
	return query{using: "xpath", value: xp, filterText: sel.Text != ""}
}

var androidKinds = map[string]string{
	"Button":    "android.widget.Button",
	"Edit":      "android.widget.EditText",
	"Text":      "android.widget.TextView",
	"CheckBox":  "android.widget.CheckBox",
	"Image":     "android.widget.ImageView",
	"ListItem":  "android.widget.LinearLayout",
	"Hyperlink": "android.widget.TextView",
}

func androidClass(kind string) string {
	if strings.Contains(kind, ".") {
		return kind
	}
	if c, ok := androidKinds[kind]; ok {
		return c
	}
	return "android.widget." + kind
}

var iosKinds = map[string]string{
	"Button":    "XCUIElementTypeButton",
	"Edit":      "XCUIElementTypeTextField",
	"Text":      "XCUIElementTypeStaticText",
	"CheckBox":  "XCUIElementTypeSwitch",
	"Image":     "XCUIElementTypeImage",
	"ListItem":  "XCUIElementTypeCell",
	"Hyperlink": "XCUIElementTypeLink",
}

func iosType(kind string) string {
	if strings.HasPrefix(kind, "XCUIElementType") {
		return kind
	}
	if t, ok := iosKinds[kind]; ok {
		return t
	}
	return "XCUIElementType" + kind
}

// escapeUiAutomatorString escapes quotes and backslashes for UiSelector arguments.
func escapeUiAutomatorString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// escapeIOSPredicateString escapes quotes and backslashes for NSPredicate strings.
func escapeIOSPredicateString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape syntax.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
