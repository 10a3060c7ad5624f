package notify

import (
	"context"

	"suemybrother/internal/platform/metrics"
)

type SMSSender interface {
	SendSMS(ctx context.Context, template, to string, personalisation map[string]string) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, template, to string, personalisation map[string]string) error
}

// Dispatcher routes each channel to its backend and counts outcomes.
type Dispatcher struct {
	sms   SMSSender
	email EmailSender
}

func NewDispatcher(sms SMSSender, email EmailSender) *Dispatcher {
	return &Dispatcher{sms: sms, email: email}
}

func (d *Dispatcher) SendSMS(ctx context.Context, template, to string, personalisation map[string]string) error {
	err := d.sms.SendSMS(ctx, template, to, personalisation)
	record(ChannelSMS, err)
	return err
}

func (d *Dispatcher) SendEmail(ctx context.Context, template, to string, personalisation map[string]string) error {
	err := d.email.SendEmail(ctx, template, to, personalisation)
	record(ChannelEmail, err)
	return err
}

func record(channel string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	metrics.Notifications.WithLabelValues(channel, outcome).Inc()
}
