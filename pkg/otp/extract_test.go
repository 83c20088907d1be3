package otp

import (
	"sync"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"six digits", "Your code is 482913, expires in 10 minutes", "482913", true},
		{"four digits", "PIN: 1234", "1234", true},
		{"eight digits", "code 12345678.", "12345678", true},
		{"start of text", "9876 is your code", "9876", true},
		{"first of two", "codes 1111 and 2222", "1111", true},
		{"too long skipped", "order 123456789 code 5555", "5555", true},
		{"too short skipped", "in 10 minutes use 3344", "3344", true},
		{"no digits", "Welcome!", "", false},
		{"only short runs", "expires in 10 minutes at 12:30", "", false},
		{"only long runs", "ref 1234567890123", "", false},
		{"glued to letters", "abc4567def", "", false},
		{"letter prefix skipped", "Order ID A1234 - your code is 567890", "567890", true},
		{"underscore prefix skipped", "ref_2024 code 482913", "482913", true},
		{"letter prefix with colon", "HP1234: 556677", "556677", true},
		{"letter suffix skipped", "1234abc then 9999", "9999", true},
		{"punctuation bounds run", "(4821)", "4821", true},
		{"empty", "", "", false},
		{"non ascii digits", "code ١٢٣٤٥٦", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := Extract(tt.text)
			if ok != tt.ok {
				t.Fatalf("Extract(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if code.Value() != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.text, code.Value(), tt.want)
			}
			if !ok && !code.IsZero() {
				t.Error("miss should return the zero Code")
			}
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	text := "Use 7391 or 8842 to sign in"
	first, _ := Extract(text)
	for i := 0; i < 10; i++ {
		got, _ := Extract(text)
		if got.Value() != first.Value() {
			t.Fatalf("run %d: got %q, want %q", i, got.Value(), first.Value())
		}
	}
}

func TestCodeTake(t *testing.T) {
	code := NewCode("482913")
	dup := code

	v, ok := code.Take()
	if !ok || v != "482913" {
		t.Fatalf("Take = %q, %v", v, ok)
	}
	if _, ok := dup.Take(); ok {
		t.Error("copy of a taken code should be spent")
	}
	if !dup.Spent() {
		t.Error("Spent() = false after Take")
	}
	if code.Value() != "482913" {
		t.Error("Value should survive Take")
	}
}

func TestCodeTakeConcurrent(t *testing.T) {
	code := NewCode("1234")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := code.Take(); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestCodeDiscard(t *testing.T) {
	code := NewCode("1234")
	code.Discard()
	if _, ok := code.Take(); ok {
		t.Error("discarded code should not be taken")
	}

	var zero Code
	zero.Discard()
	if _, ok := zero.Take(); ok {
		t.Error("zero code should not be taken")
	}
	if zero.Spent() {
		t.Error("zero code should not report spent")
	}
}

func TestNewExtractor(t *testing.T) {
	if _, err := NewExtractor(`(\d+)-(\d+)`); err == nil {
		t.Error("expected error for two capture groups")
	}
	if _, err := NewExtractor(`([`); err == nil {
		t.Error("expected error for invalid pattern")
	}

	e, err := NewExtractor("")
	if err != nil {
		t.Fatalf("NewExtractor(\"\"): %v", err)
	}
	if code, ok := e.Extract("code 4821"); !ok || code.Value() != "4821" {
		t.Errorf("default extractor = %q, %v", code.Value(), ok)
	}
}

func TestExtractorPattern(t *testing.T) {
	tests := []struct {
		pattern string
		text    string
		want    string
		ok      bool
	}{
		{`G-(\d{6})`, "Your code is G-123456. 999999", "123456", true},
		{`[A-Z]{3}\d{3}`, "token ABC123 here", "ABC123", true},
		{`G-(\d{6})`, "Your code is 123456", "", false},
		{`code:(\d*)`, "code: none", "", false},
	}
	for _, tt := range tests {
		e, err := NewExtractor(tt.pattern)
		if err != nil {
			t.Fatalf("NewExtractor(%q): %v", tt.pattern, err)
		}
		code, ok := e.Extract(tt.text)
		if ok != tt.ok || code.Value() != tt.want {
			t.Errorf("%q on %q = %q, %v; want %q, %v", tt.pattern, tt.text, code.Value(), ok, tt.want, tt.ok)
		}
	}

	var nilExtractor *Extractor
	if code, ok := nilExtractor.Extract("pin 5678"); !ok || code.Value() != "5678" {
		t.Errorf("nil extractor = %q, %v", code.Value(), ok)
	}
}

func TestExtractLink(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Verify at https://example.com/v?t=abc.", "https://example.com/v?t=abc"},
		{"(https://example.com/a)", "https://example.com/a"},
		{`<a href="https://x.test/1">go</a>`, "https://x.test/1"},
		{"plain http://insecure.test only", ""},
		{"no link", ""},
	}
	for _, tt := range tests {
		got, ok := ExtractLink(tt.text)
		if got != tt.want || ok != (tt.want != "") {
			t.Errorf("ExtractLink(%q) = %q, %v; want %q", tt.text, got, ok, tt.want)
		}
	}
}
