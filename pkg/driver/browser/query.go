package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/devicelab-dev/otp-handoff/pkg/flow"
)

// domQuery is a chromedp node query. Text patterns are always matched
// client side because the DOM has no regexp matcher.
type domQuery struct {
	expr string
	by   chromedp.QueryOption
}

// buildQuery turns a selector into a CSS or XPath query.
func buildQuery(sel flow.Selector) (domQuery, error) {
	if sel.IsEmpty() {
		return domQuery{}, fmt.Errorf("empty selector")
	}
	if sel.XPath != "" {
		return domQuery{expr: sel.XPath, by: chromedp.BySearch}, nil
	}
	if sel.CSS != "" {
		return domQuery{expr: sel.CSS, by: chromedp.ByQueryAll}, nil
	}
	return domQuery{expr: cssFor(sel), by: chromedp.ByQueryAll}, nil
}

// cssFor builds a CSS selector from the identifying attributes. Text-only
// selectors match every element and rely on the text filter.
func cssFor(sel flow.Selector) string {
	tag := tagFor(sel.Kind)
	var attrs strings.Builder
	if sel.ID != "" {
		fmt.Fprintf(&attrs, "[id=%s]", cssString(sel.ID))
	}
	if sel.Desc != "" {
		fmt.Fprintf(&attrs, "[aria-label=%s]", cssString(sel.Desc))
	}
	if tag == "" && attrs.Len() == 0 {
		return "body *"
	}
	if tag == "" {
		return attrs.String()
	}
	var parts []string
	for _, t := range strings.Split(tag, ",") {
		parts = append(parts, t+attrs.String())
	}
	return strings.Join(parts, ", ")
}

var kindTags = map[string]string{
	"Button":    "button,input[type=submit],input[type=button],[role=button]",
	"Edit":      "input:not([type=hidden]):not([type=submit]):not([type=button]),textarea",
	"Text":      "p,span,label,h1,h2,h3,h4,h5,h6,td,div",
	"CheckBox":  "input[type=checkbox]",
	"Image":     "img",
	"ListItem":  "li,tr",
	"Hyperlink": "a",
}

func tagFor(kind string) string {
	if kind == "" {
		return ""
	}
	if t, ok := kindTags[kind]; ok {
		return t
	}
	return strings.ToLower(kind)
}

// cssString quotes s as a CSS string.
func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

var keyNames = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"home":      kb.Home,
	"end":       kb.End,
}

// keyFor maps a key name to the chromedp key sequence.
func keyFor(name string) (string, bool) {
	if k, ok := keyNames[strings.ToLower(name)]; ok {
		return k, true
	}
	if len([]rune(name)) == 1 {
		return name, true
	}
	return "", false
}
