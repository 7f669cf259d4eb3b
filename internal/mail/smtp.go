// Package mail delivers transactional email over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htemplate "html/template"
	ttemplate "text/template"

	gomail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"eostre.org/internal/auth"
	"eostre.org/internal/obs"
)

var _ auth.Mailer = (*SMTPSender)(nil)

// Config is the SMTP configuration.
type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	// TLSMode is "ssl", "starttls" or "none". Empty picks implicit TLS on port 465.
	TLSMode            string
	InsecureSkipVerify bool
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends validation emails through go-mail.
type SMTPSender struct {
	from   string
	dialer sender
}

func NewSMTPSender(cfg Config) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify}
	switch cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = gomail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = gomail.NoStartTLS
	}
	return &SMTPSender{from: cfg.From, dialer: d}
}

var (
	validationSubject = "Validate your email address"
	validationText    = ttemplate.Must(ttemplate.New("text").Parse(
		"Hello {{.Name}},\n\nConfirm this address by opening the link below. It expires in two hours.\n\n{{.Link}}\n"))
	validationHTML = htemplate.Must(htemplate.New("html").Parse(
		`<p>Hello {{.Name}},</p><p>Confirm this address by opening the link below. It expires in two hours.</p><p><a href="{{.Link}}">Validate email</a></p>`))
)

// SendValidation mails the validation link to the given address.
func (s *SMTPSender) SendValidation(ctx context.Context, to, name, link string) error {
	data := struct{ Name, Link string }{Name: name, Link: link}
	var text, html bytes.Buffer
	if err := validationText.Execute(&text, data); err != nil {
		return fmt.Errorf("render text: %w", err)
	}
	if err := validationHTML.Execute(&html, data); err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", validationSubject)
	m.SetBody("text/plain", text.String())
	m.AddAlternative("text/html", html.String())

	log := obs.From(ctx).With(zap.String("component", "smtp"), zap.String("to", to))
	if err := s.dialer.DialAndSend(m); err != nil {
		log.Error("smtp send failed", zap.Error(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info("validation email sent")
	return nil
}
