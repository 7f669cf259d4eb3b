package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	gomail "github.com/go-mail/mail"
)

type captureSender struct {
	messages []*gomail.Message
	err      error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.messages = append(c.messages, m...)
	return c.err
}

func TestSendValidationRendersBothParts(t *testing.T) {
	capture := &captureSender{}
	s := &SMTPSender{from: "noreply@example.com", dialer: capture}

	link := "https://admin.example.com/v1/email/validate?token=abc"
	if err := s.SendValidation(context.Background(), "alice@example.com", "Alice <admin>", link); err != nil {
		t.Fatalf("SendValidation: %v", err)
	}
	if len(capture.messages) != 1 {
		t.Fatalf("expected one message")
	}
	m := capture.messages[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "alice@example.com" {
		t.Fatalf("unexpected To header %v", got)
	}
	var raw bytes.Buffer
	if _, err := m.WriteTo(&raw); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	body := raw.String()
	if !strings.Contains(body, "text/plain") || !strings.Contains(body, "text/html") {
		t.Fatalf("expected multipart alternative body")
	}
	if !strings.Contains(body, "Alice &lt;admin&gt;") {
		t.Fatalf("expected html part to escape the name")
	}
}

func TestSendValidationWrapsErrors(t *testing.T) {
	s := &SMTPSender{from: "noreply@example.com", dialer: &captureSender{err: errors.New("535 auth failed")}}
	err := s.SendValidation(context.Background(), "a@example.com", "A", "http://x")
	if err == nil || !strings.Contains(err.Error(), "smtp send") {
		t.Fatalf("expected wrapped smtp error, got %v", err)
	}
}

func TestNewSMTPSenderTLSModes(t *testing.T) {
	ssl := NewSMTPSender(Config{Host: "smtp.example.com", Port: 465})
	if d := ssl.dialer.(*gomail.Dialer); !d.SSL {
		t.Fatalf("expected implicit TLS on port 465")
	}
	plain := NewSMTPSender(Config{Host: "localhost", Port: 1025, TLSMode: "none"})
	if d := plain.dialer.(*gomail.Dialer); d.SSL || d.StartTLSPolicy != gomail.NoStartTLS {
		t.Fatalf("expected plain SMTP")
	}
}
