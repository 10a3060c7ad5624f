package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/go-mail/mail"
	"suemybrother/internal/platform/config"
)

var emailTemplates = map[string]struct {
	subject string
	body    *template.Template
}{
	"accept": {
		subject: "Your suit has been accepted",
		body: template.Must(template.New("accept").Parse(
			"Dear {{.plaintiff}},\n\nYour suit against {{.defendant}} has been accepted by the court.\n")),
	},
}

type mailDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPSender delivers email templates over SMTP instead of the notification
// API.
type SMTPSender struct {
	dialer   mailDialer
	from     string
	fromName string
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer:   mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, name, to string, personalisation map[string]string) error {
	tmpl, ok := emailTemplates[name]
	if !ok {
		return fmt.Errorf("notify: unknown email template %q", name)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, personalisation); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetAddressHeader("From", s.from, s.fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", tmpl.subject)
	m.SetBody("text/plain", body.String())

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.dialer.DialAndSend(m)
}
