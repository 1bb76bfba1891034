// Package notify delivers analysis and market review reports to configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/stockbot/internal/config"
	"github.com/rs/zerolog"
)

// Notifier sends a finished report somewhere a human will read it.
type Notifier interface {
	Send(ctx context.Context, title, content string) error
	// Channels names the configured destinations. Empty means Send is a no-op.
	Channels() []string
}

// Channel is one delivery destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, title, content string) error
}

// Service fans a report out to every configured channel.
type Service struct {
	channels []Channel
	log      zerolog.Logger
}

// NewService creates a notification service over the given channels.
func NewService(log zerolog.Logger, channels ...Channel) *Service {
	return &Service{
		channels: channels,
		log:      log.With().Str("service", "notify").Logger(),
	}
}

// Channels returns the configured channel names.
func (s *Service) Channels() []string {
	names := make([]string, 0, len(s.channels))
	for _, c := range s.channels {
		names = append(names, c.Name())
	}
	return names
}

// Send delivers to every channel. A failing channel does not stop the others;
// the joined error lists every channel that failed.
func (s *Service) Send(ctx context.Context, title, content string) error {
	if len(s.channels) == 0 {
		s.log.Debug().Str("title", title).Msg("No notification channels configured, skipping")
		return nil
	}

	var errs []error
	for _, c := range s.channels {
		start := time.Now()
		if err := c.Deliver(ctx, title, content); err != nil {
			s.log.Warn().Err(err).Str("channel", c.Name()).Msg("Notification delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		s.log.Info().
			Str("channel", c.Name()).
			Dur("duration", time.Since(start)).
			Msg("Notification delivered")
	}
	return errors.Join(errs...)
}

// NewFactory returns a zero-argument constructor producing a fresh notifier per call.
// Channel settings come from the analysis template, so every job sees the same destinations.
func NewFactory(cfg *config.Config, log zerolog.Logger) func() Notifier {
	client := &http.Client{Timeout: defaultWebhookTimeout}
	return func() Notifier {
		var channels []Channel
		if url := strings.TrimSpace(cfg.Analysis.DiscordWebhookURL); url != "" {
			ch, err := NewDiscordWebhook(url)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring invalid Discord webhook URL")
			} else {
				channels = append(channels, ch)
			}
		}
		for _, url := range cfg.Analysis.CustomWebhookURLs {
			channels = append(channels, NewWebhook(url, client))
		}
		return NewService(log, channels...)
	}
}
