package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
	From     string
}

// SMTPTransport delivers payloads as HTML mail over SMTP.
type SMTPTransport struct {
	cfg    SMTPConfig
	client *mail.Client
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPTransport{cfg: cfg, client: client}, nil
}

func (t *SMTPTransport) message(p Payload) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(t.cfg.From); err != nil {
		return nil, fmt.Errorf("from %q: %w", t.cfg.From, err)
	}
	if err := msg.To(p.To); err != nil {
		return nil, fmt.Errorf("to %q: %w", p.To, err)
	}
	msg.Subject(p.Subject)
	msg.SetBodyString(mail.TypeTextHTML, p.Body)
	msg.SetMessageID()
	return msg, nil
}

func (t *SMTPTransport) Deliver(ctx context.Context, p Payload) (string, error) {
	msg, err := t.message(p)
	if err != nil {
		return "", err
	}
	if err := t.client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return msg.GetMessageID(), nil
}
