// Package identity generates disposable test identities: mailbox addresses
// and person names.
package identity

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	lowerAlphabet  = "abcdefghijklmnopqrstuvwxyz"
	letterAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Mailbox is a disposable address, e.g. "qwertest@mailsac.com".
type Mailbox struct {
	Local  string
	Domain string
}

// String returns local@domain.
func (m Mailbox) String() string {
	if m.Domain == "" {
		return m.Local
	}
	return m.Local + "@" + m.Domain
}

// IsZero reports whether the mailbox has no local part.
func (m Mailbox) IsZero() bool { return m.Local == "" }

// ParseMailbox splits an address at its last '@'. A bare local part is
// accepted and paired with defaultDomain.
func ParseMailbox(addr, defaultDomain string) (Mailbox, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Mailbox{}, fmt.Errorf("empty mailbox")
	}
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return Mailbox{Local: addr, Domain: defaultDomain}, nil
	}
	local, domain := addr[:i], addr[i+1:]
	if local == "" || domain == "" {
		return Mailbox{}, fmt.Errorf("invalid mailbox %q", addr)
	}
	return Mailbox{Local: local, Domain: domain}, nil
}

// Generator produces random identities.
type Generator struct {
	Domain       string // Mailbox domain
	PrefixLength int    // Random lowercase characters at the start of the local part
	Tag          string // Fixed text after the random prefix
	NameLength   int    // Length of each generated name
}

// Mailbox returns a fresh random mailbox: <prefix><tag>@<domain>.
func (g Generator) Mailbox() (Mailbox, error) {
	if g.PrefixLength <= 0 {
		return Mailbox{}, fmt.Errorf("identity: prefix length must be positive, got %d", g.PrefixLength)
	}
	prefix, err := nanoid.Generate(lowerAlphabet, g.PrefixLength)
	if err != nil {
		return Mailbox{}, fmt.Errorf("identity: %w", err)
	}
	return Mailbox{Local: prefix + g.Tag, Domain: g.Domain}, nil
}

// Name returns a random capitalised first and last name.
func (g Generator) Name() (string, string, error) {
	first, err := g.word()
	if err != nil {
		return "", "", err
	}
	last, err := g.word()
	if err != nil {
		return "", "", err
	}
	return first, last, nil
}

func (g Generator) word() (string, error) {
	if g.NameLength <= 0 {
		return "", fmt.Errorf("identity: name length must be positive, got %d", g.NameLength)
	}
	w, err := nanoid.Generate(letterAlphabet, g.NameLength)
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}
	return Capitalize(w), nil
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
