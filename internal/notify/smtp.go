package notify

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	To        []string
}

// SMTPNotifier mails every notification to the configured operators.
type SMTPNotifier struct {
	config SMTPConfig
	send   func(m ...*gomail.Message) error
}

func NewSMTPNotifier(config SMTPConfig) (*SMTPNotifier, error) {
	if config.Host == "" {
		return nil, errors.New("SMTP host is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid SMTP port: %d", config.Port)
	}
	if len(config.To) == 0 {
		return nil, errors.New("no recipients specified")
	}

	d := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	return &SMTPNotifier{config: config, send: d.DialAndSend}, nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.config.FromEmail)
	m.SetHeader("To", n.config.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := n.send(m); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
