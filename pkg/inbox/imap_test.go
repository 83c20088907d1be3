package inbox

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// startIMAP runs an in-memory IMAP server and returns its address.
func startIMAP(t *testing.T) string {
	t.Helper()
	mem := imapmemserver.New()
	user := imapmemserver.NewUser("qa", "secret")
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatal(err)
	}
	mem.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}, imap.CapIMAP4rev2: {}},
		InsecureAuth: true,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })
	return ln.Addr().String()
}

func appendIMAP(t *testing.T, addr, raw string) {
	t.Helper()
	c, err := imapclient.DialInsecure(addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Login("qa", "secret").Wait(); err != nil {
		t.Fatal(err)
	}
	cmd := c.Append("INBOX", int64(len(raw)), nil)
	if _, err := cmd.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestIMAPSourceAwait(t *testing.T) {
	addr := startIMAP(t)
	src := NewIMAPSource(IMAPOptions{Addr: addr, Username: "qa", Password: "secret", Insecure: true})
	if err := src.Open(context.Background(), testMailbox, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	found, err := src.Await(context.Background(), time.Second)
	if err != nil || found {
		t.Fatalf("empty folder: got %v, %v", found, err)
	}

	appendIMAP(t, addr, "From: noreply@hp.example\r\nTo: other@mailsac.com\r\nSubject: x\r\n\r\nnot ours 111111\r\n")
	if err := src.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if found, err := src.Await(context.Background(), time.Second); err != nil || found {
		t.Fatalf("foreign mail should not match, got %v, %v", found, err)
	}

	appendIMAP(t, addr, multipartMessage)
	found, err = src.Await(context.Background(), time.Second)
	if err != nil || !found {
		t.Fatalf("expected a match, got %v, %v", found, err)
	}
	body, err := src.Body(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains([]byte(body), []byte("482913")) {
		t.Errorf("Body = %q", body)
	}
}

func TestIMAPSourceUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	src := NewIMAPSource(IMAPOptions{Addr: addr, Insecure: true})
	if err := src.Open(context.Background(), testMailbox, nil); err == nil {
		t.Error("expected connection error")
	}
}
