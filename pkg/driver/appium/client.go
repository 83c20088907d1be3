// Package appium implements core.Backend against a W3C WebDriver server:
// Appium for Android and iOS, and the Appium Windows driver for desktop apps.
package appium

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devicelab-dev/otp-handoff/pkg/core"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// WebDriverError is an error value returned by the server.
type WebDriverError struct {
	Status  int
	Code    string // W3C error code, e.g. "no such element"
	Message string
}

func (e *WebDriverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps W3C error codes onto the core taxonomy.
func (e *WebDriverError) Is(target error) bool {
	switch e.Code {
	case "no such element", "stale element reference":
		return target == core.ErrControlNotFound
	case "element not interactable", "element click intercepted", "invalid element state":
		return target == core.ErrControlNotInteractive
	case "no such window":
		return target == core.ErrWindowNotFound
	case "unknown command", "unsupported operation":
		return target == core.ErrUnsupported
	}
	return false
}

// Client handles HTTP communication with the WebDriver server.
type Client struct {
	serverURL string
	sessionID string
	client    *http.Client
	platform  string // android, ios, windows
	caps      map[string]interface{}
}

// NewClient creates a new client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Minute, // Session creation installs apps
		},
	}
}

// Connect creates a new session with the given capabilities.
func (c *Client) Connect(ctx context.Context, capabilities map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	}

	resp, err := c.post(ctx, "/session", body)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid session response")
	}
	c.sessionID, _ = value["sessionId"].(string)
	if c.sessionID == "" {
		return fmt.Errorf("no session ID in response")
	}

	c.caps, _ = value["capabilities"].(map[string]interface{})
	if platform, ok := c.caps["platformName"].(string); ok {
		c.platform = strings.ToLower(platform)
	} else if platform, ok := capabilities["platformName"].(string); ok {
		c.platform = strings.ToLower(platform)
	}
	logger.Info("webdriver session %s created (%s)", c.sessionID, c.platform)
	return nil
}

// Disconnect closes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.request(ctx, http.MethodDelete, c.sessionPath(), nil)
	c.sessionID = ""
	return err
}

// Platform returns the platform reported by the server.
func (c *Client) Platform() string {
	return c.platform
}

// Capability returns a string capability echoed back by the server.
func (c *Client) Capability(name string) string {
	v, _ := c.caps[name].(string)
	return v
}

// Element Operations

// FindElements finds every element matching the strategy. An empty result
// is not an error.
func (c *Client) FindElements(ctx context.Context, strategy, value string) ([]string, error) {
	resp, err := c.post(ctx, c.sessionPath()+"/elements", map[string]interface{}{
		"using": strategy,
		"value": value,
	})
	if err != nil {
		if errors.Is(err, core.ErrControlNotFound) {
			return nil, nil
		}
		return nil, err
	}

	values, _ := resp["value"].([]interface{})
	var ids []string
	for _, v := range values {
		if elem, ok := v.(map[string]interface{}); ok {
			if id := extractElementID(elem); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// ClickElement clicks an element.
func (c *Client) ClickElement(ctx context.Context, elementID string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/click", map[string]interface{}{})
	return err
}

// ClearElement clears an element's text.
func (c *Client) ClearElement(ctx context.Context, elementID string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/clear", map[string]interface{}{})
	return err
}

// SendKeysToElement types text into an element.
func (c *Client) SendKeysToElement(ctx context.Context, elementID, text string) error {
	_, err := c.post(ctx, c.elementPath(elementID)+"/value", map[string]interface{}{
		"text":  text,
		"value": strings.Split(text, ""),
	})
	return err
}

// ElementText returns an element's text.
func (c *Client) ElementText(ctx context.Context, elementID string) (string, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

// ElementAttribute returns an element's attribute value.
func (c *Client) ElementAttribute(ctx context.Context, elementID, name string) (string, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/attribute/"+name)
	if err != nil {
		return "", err
	}
	value, _ := resp["value"].(string)
	return value, nil
}

// ElementRect returns an element's position and size.
func (c *Client) ElementRect(ctx context.Context, elementID string) (core.Bounds, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/rect")
	if err != nil {
		return core.Bounds{}, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return core.Bounds{}, fmt.Errorf("invalid rect response")
	}
	xf, _ := value["x"].(float64)
	yf, _ := value["y"].(float64)
	wf, _ := value["width"].(float64)
	hf, _ := value["height"].(float64)
	return core.Bounds{X: int(xf), Y: int(yf), Width: int(wf), Height: int(hf)}, nil
}

// IsElementDisplayed checks if element is visible.
func (c *Client) IsElementDisplayed(ctx context.Context, elementID string) (bool, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/displayed")
	if err != nil {
		return false, err
	}
	displayed, _ := resp["value"].(bool)
	return displayed, nil
}

// IsElementEnabled checks if element is enabled.
func (c *Client) IsElementEnabled(ctx context.Context, elementID string) (bool, error) {
	resp, err := c.get(ctx, c.elementPath(elementID)+"/enabled")
	if err != nil {
		return false, err
	}
	enabled, _ := resp["value"].(bool)
	return enabled, nil
}

// Windows and contexts

// WindowHandles lists the top-level windows of the session.
func (c *Client) WindowHandles(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/window/handles")
	if err != nil {
		return nil, err
	}
	return stringSlice(resp["value"]), nil
}

// WindowHandle returns the current window handle.
func (c *Client) WindowHandle(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/window")
	if err != nil {
		return "", err
	}
	handle, _ := resp["value"].(string)
	return handle, nil
}

// SwitchToWindow makes handle the current window.
func (c *Client) SwitchToWindow(ctx context.Context, handle string) error {
	_, err := c.post(ctx, c.sessionPath()+"/window", map[string]interface{}{
		"handle": handle,
		"name":   handle,
	})
	return err
}

// Title returns the current window title.
func (c *Client) Title(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/title")
	if err != nil {
		return "", err
	}
	title, _ := resp["value"].(string)
	return title, nil
}

// Contexts lists app contexts such as NATIVE_APP and WEBVIEW_*.
func (c *Client) Contexts(ctx context.Context) ([]string, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/contexts")
	if err != nil {
		return nil, err
	}
	return stringSlice(resp["value"]), nil
}

// SetContext switches to the named app context.
func (c *Client) SetContext(ctx context.Context, name string) error {
	_, err := c.post(ctx, c.sessionPath()+"/context", map[string]interface{}{"name": name})
	return err
}

// AcceptAlert accepts the open alert.
func (c *Client) AcceptAlert(ctx context.Context) error {
	_, err := c.post(ctx, c.sessionPath()+"/alert/accept", map[string]interface{}{})
	return err
}

// Input actions (W3C Actions)

// PerformActions sends a W3C actions payload.
func (c *Client) PerformActions(ctx context.Context, actions []map[string]interface{}) error {
	_, err := c.post(ctx, c.sessionPath()+"/actions", map[string]interface{}{"actions": actions})
	return err
}

// LongPress holds a touch pointer at x, y.
func (c *Client) LongPress(ctx context.Context, x, y int, d time.Duration) error {
	return c.PerformActions(ctx, []map[string]interface{}{{
		"type":       "pointer",
		"id":         "finger1",
		"parameters": map[string]interface{}{"pointerType": "touch"},
		"actions": []map[string]interface{}{
			{"type": "pointerMove", "duration": 0, "x": x, "y": y, "origin": "viewport"},
			{"type": "pointerDown", "button": 0},
			{"type": "pause", "duration": d.Milliseconds()},
			{"type": "pointerUp", "button": 0},
		},
	}})
}

// KeyChord presses keys down in order and releases them in reverse.
func (c *Client) KeyChord(ctx context.Context, keys ...string) error {
	var seq []map[string]interface{}
	for _, k := range keys {
		seq = append(seq, map[string]interface{}{"type": "keyDown", "value": k})
	}
	for i := len(keys) - 1; i >= 0; i-- {
		seq = append(seq, map[string]interface{}{"type": "keyUp", "value": keys[i]})
	}
	return c.PerformActions(ctx, []map[string]interface{}{{
		"type":    "key",
		"id":      "keyboard",
		"actions": seq,
	}})
}

// PressKeyCode presses a key by keycode (Android).
func (c *Client) PressKeyCode(ctx context.Context, keycode int) error {
	_, err := c.post(ctx, c.sessionPath()+"/appium/device/press_keycode", map[string]interface{}{
		"keycode": keycode,
	})
	return err
}

// Navigation

// Back navigates back.
func (c *Client) Back(ctx context.Context) error {
	_, err := c.post(ctx, c.sessionPath()+"/back", map[string]interface{}{})
	return err
}

// OpenURL opens a URL or deep link.
func (c *Client) OpenURL(ctx context.Context, url string) error {
	_, err := c.post(ctx, c.sessionPath()+"/url", map[string]interface{}{"url": url})
	return err
}

// ActivateApp brings an installed app to the foreground.
func (c *Client) ActivateApp(ctx context.Context, appID string) error {
	body := map[string]interface{}{}
	if c.platform == "ios" {
		body["bundleId"] = appID
	} else {
		body["appId"] = appID
	}
	_, err := c.post(ctx, c.sessionPath()+"/appium/device/activate_app", body)
	return err
}

// Clipboard

// SetClipboard sets clipboard text.
func (c *Client) SetClipboard(ctx context.Context, text string) error {
	_, err := c.post(ctx, c.sessionPath()+"/appium/device/set_clipboard", map[string]interface{}{
		"content":     base64.StdEncoding.EncodeToString([]byte(text)),
		"contentType": "plaintext",
	})
	return err
}

// Clipboard returns clipboard text.
func (c *Client) Clipboard(ctx context.Context) (string, error) {
	resp, err := c.post(ctx, c.sessionPath()+"/appium/device/get_clipboard", map[string]interface{}{
		"contentType": "plaintext",
	})
	if err != nil {
		return "", err
	}
	encoded, _ := resp["value"].(string)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode clipboard: %w", err)
	}
	return string(decoded), nil
}

// Screenshot returns a screenshot as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.sessionPath()+"/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

func (c *Client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrServerUnreachable.
			WithMessage(fmt.Sprintf("webdriver server %s unreachable", c.serverURL)).
			WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse %s %s response (HTTP %d): %w", method, path, resp.StatusCode, err)
	}

	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if code, ok := errValue["error"].(string); ok {
			msg, _ := errValue["message"].(string)
			return result, &WebDriverError{Status: resp.StatusCode, Code: code, Message: msg}
		}
	}
	if resp.StatusCode >= 400 {
		return result, &WebDriverError{Status: resp.StatusCode, Code: "unknown error", Message: resp.Status}
	}
	return result, nil
}

func extractElementID(value map[string]interface{}) string {
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy JSONWP format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}

func stringSlice(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
