package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/errs"
)

// Email sends plain-text mail through an SMTP relay.
type Email struct {
	registry *config.EmailRegistry

	// send is swapped in tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail wires the notifier onto the live email config registry, so
// config edits apply without a restart.
func NewEmail(registry *config.EmailRegistry) *Email {
	return &Email{registry: registry, send: smtp.SendMail}
}

func (e *Email) Channel() string { return "email" }

// Send delivers one message to the configured recipients.
func (e *Email) Send(_ context.Context, subject, body string) error {
	cfg := e.registry.Get()
	if !cfg.Enabled {
		return nil
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return errs.New(errs.KindValidation, "email notifier needs host, from and to")
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		cfg.From, strings.Join(cfg.To, ", "), subject, body)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := e.send(addr, auth, cfg.From, cfg.To, []byte(msg)); err != nil {
		return errs.Wrap(errs.KindInternal, err, "smtp delivery to %s failed", addr)
	}
	return nil
}
