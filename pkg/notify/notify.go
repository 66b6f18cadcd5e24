// Package notify dispatches alert notifications over the configured
// channels. A nil service is valid and drops everything.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers one message over one channel.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
	Channel() string
}

// Service fans a message out to every configured notifier. Channel
// failures surface individually; one bad channel never hides another.
type Service struct {
	notifiers []Notifier
	log       *slog.Logger
}

// NewService wires the channels. An empty list is valid.
func NewService(notifiers ...Notifier) *Service {
	return &Service{
		notifiers: notifiers,
		log:       slog.Default().With("component", "notify"),
	}
}

// Channels lists the configured channel names.
func (s *Service) Channels() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		out = append(out, n.Channel())
	}
	return out
}

// Send delivers to every channel, returning the first error after all
// channels were attempted.
func (s *Service) Send(ctx context.Context, subject, body string) error {
	if s == nil || len(s.notifiers) == 0 {
		return nil
	}
	var firstErr error
	for _, n := range s.notifiers {
		if err := n.Send(ctx, subject, body); err != nil {
			s.log.Warn("Notification channel failed", "channel", n.Channel(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
