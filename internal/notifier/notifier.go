// Package notifier turns alerts into channel-specific payloads and delivers
// them through external transports. Channels are attempted independently: a
// failure on one never blocks the other, and neither rolls back the alert
// store write that preceded it.
package notifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/types"
)

// Channel names.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// EmailTransport delivers a rendered HTML email. Implementations return
// whether the attempt succeeded.
type EmailTransport interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) bool
}

// TelegramTransport delivers a rendered Telegram message.
type TelegramTransport interface {
	SendTelegram(ctx context.Context, text string) bool
}

// Dispatcher fans an alert out to the configured channels. A nil transport
// means the channel is not configured and is silently skipped.
type Dispatcher struct {
	log      zerolog.Logger
	email    EmailTransport
	emailTo  string
	telegram TelegramTransport
}

// NewDispatcher creates a Dispatcher. emailTo is the default recipient used
// when the caller does not name one.
func NewDispatcher(log zerolog.Logger, email EmailTransport, emailTo string, telegram TelegramTransport) *Dispatcher {
	return &Dispatcher{
		log:      log.With().Str("component", "notifier").Logger(),
		email:    email,
		emailTo:  emailTo,
		telegram: telegram,
	}
}

// Dispatch sends the alert on every configured channel and reports
// per-channel success. Transport failures are logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) map[string]bool {
	results := make(map[string]bool)

	if d.email != nil && d.emailTo != "" {
		ok := d.email.SendEmail(ctx, d.emailTo, FormatEmailSubject(alert), FormatEmailHTML(alert))
		results[ChannelEmail] = ok
		d.logAttempt(alert, ChannelEmail, ok)
	} else {
		d.log.Debug().Str("alert", alert.ID).Msg("email not configured, skipping")
	}

	if d.telegram != nil {
		ok := d.telegram.SendTelegram(ctx, FormatTelegram(alert))
		results[ChannelTelegram] = ok
		d.logAttempt(alert, ChannelTelegram, ok)
	} else {
		d.log.Debug().Str("alert", alert.ID).Msg("telegram not configured, skipping")
	}

	return results
}

// Send delivers the alert on a single named channel, for the notification
// endpoint. recipient overrides the default email recipient when set.
func (d *Dispatcher) Send(ctx context.Context, channel, recipient string, alert types.Alert) (bool, error) {
	switch channel {
	case ChannelEmail:
		if d.email == nil {
			return false, fmt.Errorf("email channel not configured")
		}
		to := recipient
		if to == "" {
			to = d.emailTo
		}
		if to == "" {
			return false, fmt.Errorf("no email recipient")
		}
		ok := d.email.SendEmail(ctx, to, FormatEmailSubject(alert), FormatEmailHTML(alert))
		d.logAttempt(alert, ChannelEmail, ok)
		return ok, nil
	case ChannelTelegram:
		if d.telegram == nil {
			return false, fmt.Errorf("telegram channel not configured")
		}
		ok := d.telegram.SendTelegram(ctx, FormatTelegram(alert))
		d.logAttempt(alert, ChannelTelegram, ok)
		return ok, nil
	}
	return false, fmt.Errorf("unknown channel %q", channel)
}

func (d *Dispatcher) logAttempt(alert types.Alert, channel string, ok bool) {
	if ok {
		d.log.Info().Str("alert", alert.ID).Str("channel", channel).Msg("notification sent")
		return
	}
	d.log.Error().Str("alert", alert.ID).Str("channel", channel).Msg("notification failed")
}
