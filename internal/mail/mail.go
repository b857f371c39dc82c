// Package mail delivers transactional email such as password reset links.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gomail "github.com/wneessen/go-mail"

	"ediportal.org/internal/obs"
)

// Config describes an SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	SSL      bool
}

// SMTP sends HTML messages through an SMTP relay.
type SMTP struct {
	client *gomail.Client
	from   string
}

// NewSMTP validates cfg and prepares a client. No connection is made until Send.
func NewSMTP(cfg Config) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mail: sender address is required")
	}
	opts := []gomail.Option{gomail.WithPort(cfg.Port)}
	if cfg.SSL {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: new client: %w", err)
	}
	return &SMTP{client: client, from: cfg.From}, nil
}

// Send delivers one HTML message.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("mail: from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail: to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, body)
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}

// Log writes messages to the service log instead of delivering them.
// Used when no SMTP relay is configured.
type Log struct{}

func (Log) Send(_ context.Context, to, subject, body string) error {
	obs.Logger().WithFields(map[string]any{
		"to":      to,
		"subject": subject,
		"bytes":   len(body),
	}).Info("mail delivery skipped: no smtp relay configured")
	return nil
}

// Message is a captured delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Recorder keeps messages in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}
