package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
)

// Email is a plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SMTPMailer sends mail through an SMTP relay using PLAIN auth.
type SMTPMailer struct {
	config   SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer validates config and returns a mailer.
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(config.Addr) == "" {
		return nil, errors.New("smtp address is required")
	}
	if strings.TrimSpace(config.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	return &SMTPMailer{config: config, sendMail: smtp.SendMail}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(email.To, "\r\n") || strings.ContainsAny(email.Subject, "\r\n") {
		return errors.New("invalid header value")
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		host, _, err := net.SplitHostPort(m.config.Addr)
		if err != nil {
			host = m.config.Addr
		}
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, host)
	}

	if err := m.sendMail(m.config.Addr, auth, m.config.From, []string{email.To}, m.compose(email)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.config.Addr, err)
	}
	return nil
}

func (m *SMTPMailer) compose(email Email) []byte {
	return []byte(strings.Join([]string{
		"From: " + m.config.From,
		"To: " + email.To,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Subject: " + mime.QEncoding.Encode("utf-8", email.Subject),
		"",
		email.Body,
		"",
	}, "\r\n"))
}
