package appium

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakeElement struct {
	text     string
	name     string
	hidden   bool
	disabled bool
	clickErr string
	value    string
}

type fakeWindow struct {
	handle string
	title  string
}

type fakeCall struct {
	method string
	path   string
	body   map[string]interface{}
}

// fakeWebDriver is an in-memory W3C WebDriver server for one session "s1".
type fakeWebDriver struct {
	mu        sync.Mutex
	platform  string
	elements  map[string]*fakeElement
	finds     map[string][]string // "using|value" -> element ids
	windows   []fakeWindow
	current   string
	contexts  []string
	context   string
	alert     bool
	clipboard string
	calls     []fakeCall
}

func newFakeWebDriver(platform string) *fakeWebDriver {
	return &fakeWebDriver{
		platform: platform,
		elements: map[string]*fakeElement{},
		finds:    map[string][]string{},
	}
}

func (f *fakeWebDriver) element(id string, e *fakeElement, using, value string) {
	f.elements[id] = e
	key := using + "|" + value
	f.finds[key] = append(f.finds[key], id)
}

func (f *fakeWebDriver) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeWebDriver) callsTo(suffix string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if strings.HasSuffix(c.path, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func writeValue(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": v})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"value": map[string]interface{}{"error": code, "message": msg},
	})
}

func (f *fakeWebDriver) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.calls = append(f.calls, fakeCall{method: r.Method, path: r.URL.Path, body: body})

	if r.URL.Path == "/session" && r.Method == http.MethodPost {
		writeValue(w, map[string]interface{}{
			"sessionId": "s1",
			"capabilities": map[string]interface{}{
				"platformName":    f.platform,
				"platformVersion": "14",
				"deviceName":      "Pixel 8",
			},
		})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/session/s1")
	if path == r.URL.Path {
		writeError(w, http.StatusNotFound, "invalid session id", "unknown session")
		return
	}

	if strings.HasPrefix(path, "/element/") {
		f.serveElement(w, r.Method, strings.TrimPrefix(path, "/element/"), body)
		return
	}

	switch path {
	case "":
		writeValue(w, nil)
	case "/elements":
		using, _ := body["using"].(string)
		value, _ := body["value"].(string)
		var out []interface{}
		for _, id := range f.finds[using+"|"+value] {
			out = append(out, map[string]interface{}{w3cElementKey: id})
		}
		writeValue(w, out)
	case "/window/handles":
		var handles []string
		for _, win := range f.windows {
			handles = append(handles, win.handle)
		}
		writeValue(w, handles)
	case "/window":
		if r.Method == http.MethodGet {
			if f.current == "" {
				writeError(w, http.StatusNotFound, "no such window", "no current window")
				return
			}
			writeValue(w, f.current)
			return
		}
		f.current, _ = body["handle"].(string)
		writeValue(w, nil)
	case "/title":
		for _, win := range f.windows {
			if win.handle == f.current {
				writeValue(w, win.title)
				return
			}
		}
		writeError(w, http.StatusNotFound, "no such window", "no current window")
	case "/contexts":
		writeValue(w, f.contexts)
	case "/context":
		f.context, _ = body["name"].(string)
		writeValue(w, nil)
	case "/alert/accept":
		if !f.alert {
			writeError(w, http.StatusNotFound, "no such alert", "no alert open")
			return
		}
		f.alert = false
		writeValue(w, nil)
	case "/appium/device/set_clipboard":
		content, _ := body["content"].(string)
		decoded, _ := base64.StdEncoding.DecodeString(content)
		f.clipboard = string(decoded)
		writeValue(w, nil)
	case "/appium/device/get_clipboard":
		writeValue(w, base64.StdEncoding.EncodeToString([]byte(f.clipboard)))
	case "/screenshot":
		writeValue(w, base64.StdEncoding.EncodeToString([]byte("png")))
	case "/actions", "/url", "/back", "/appium/device/press_keycode", "/appium/device/activate_app":
		writeValue(w, nil)
	default:
		writeError(w, http.StatusNotFound, "unknown command", path)
	}
}

func (f *fakeWebDriver) serveElement(w http.ResponseWriter, method, rest string, body map[string]interface{}) {
	id, op, _ := strings.Cut(rest, "/")
	e, ok := f.elements[id]
	if !ok {
		writeError(w, http.StatusNotFound, "no such element", "unknown element "+id)
		return
	}
	switch {
	case op == "click":
		if e.clickErr != "" {
			writeError(w, http.StatusBadRequest, e.clickErr, "cannot click")
			return
		}
		writeValue(w, nil)
	case op == "clear":
		e.value = ""
		writeValue(w, nil)
	case op == "value":
		text, _ := body["text"].(string)
		e.value += text
		writeValue(w, nil)
	case op == "text":
		if e.value != "" {
			writeValue(w, e.value)
			return
		}
		writeValue(w, e.text)
	case op == "attribute/Name":
		writeValue(w, e.name)
	case op == "displayed":
		writeValue(w, !e.hidden)
	case op == "enabled":
		writeValue(w, !e.disabled)
	case op == "rect":
		writeValue(w, map[string]interface{}{"x": 10.0, "y": 20.0, "width": 100.0, "height": 40.0})
	default:
		writeError(w, http.StatusNotFound, "unknown command", op)
	}
}
