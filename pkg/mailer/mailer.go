package mailer

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Sender delivers a single outbound message. Implementations must return an
// error on delivery failure so the caller's retry layer can act on it.
type Sender interface {
	Send(subject, message, from string, recipients []string) error
}

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
}

type SMTPSender struct {
	config Config
}

func NewSMTPSender(config Config) *SMTPSender {
	return &SMTPSender{config: config}
}

func (s *SMTPSender) Send(subject, message, from string, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		from, strings.Join(recipients, ", "), subject, message)

	addr := s.config.Host + ":" + s.config.Port
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := smtp.SendMail(addr, auth, from, recipients, []byte(body)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", strings.Join(recipients, ", "), err)
	}
	return nil
}

// LogSender writes messages to the process log instead of delivering them.
// Used when no SMTP host is configured.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(subject, message, from string, recipients []string) error {
	log.Printf("[MAIL] to=%s subject=%q", strings.Join(recipients, ", "), subject)
	return nil
}
