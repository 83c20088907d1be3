package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// Message is a parsed mail message.
type Message struct {
	ID      string
	From    string
	To      []string
	Subject string
	Date    time.Time
	Text    string // Plain text body, or the HTML body rendered to text
}

// ParseMessage reads an RFC 5322 message. The plain text part is preferred;
// an HTML-only message is converted to text.
func ParseMessage(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	m := &Message{}
	h := mr.Header
	m.ID, _ = h.MessageID()
	m.Subject, _ = h.Subject()
	m.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		m.From = from[0].Address
	}
	for _, key := range []string{"To", "Cc", "Delivered-To"} {
		list, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range list {
			m.To = append(m.To, a.Address)
		}
	}

	var plain, rich string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("read message part: %w", err)
		}
		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ih.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read message body: %w", err)
		}
		switch {
		case ct == "text/html" && rich == "":
			rich = string(body)
		case (ct == "text/plain" || ct == "") && plain == "":
			plain = string(body)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		m.Text = plain
	case rich != "":
		m.Text = HTMLToText(rich)
	}
	return m, nil
}

// AddressedTo reports whether addr is one of the recipients. Comparison
// ignores case.
func (m *Message) AddressedTo(addr string) bool {
	for _, to := range m.To {
		if strings.EqualFold(to, addr) {
			return true
		}
	}
	return false
}

var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HTMLToText renders an HTML fragment as plain text: script and style
// content is dropped, block elements start new lines and runs of
// whitespace collapse to one space.
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			} else if tag == "td" || tag == "th" {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func tidyLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
