package email

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

type Sender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@example.com"
	}
	return &SMTPSender{
		addr: host + ":" + port,
		from: from,
	}
}

func (s *SMTPSender) Send(to string, subject string, body string) error {
	msg := buildMessage(s.from, to, subject, body)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

// LogSender only logs; used when no SMTP host is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(to string, subject string, body string) error {
	s.Logger.Info("email (not sent, no smtp host)", "to", to, "subject", subject, "bytes", len(body))
	return nil
}

func buildMessage(from, to, subject, body string) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		sanitizeHeader(subject),
		body,
	)
}

// sanitizeHeader drops CR and LF so a value cannot start a new header.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(v)
}
