// Package mail delivers feedback and announcement emails over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"servchat/internal/config"
)

// DefaultConcurrency bounds parallel SMTP sessions during a bulk send.
const DefaultConcurrency = 4

var ErrDisabled = errors.New("email delivery is not configured")

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTP opens one session per message.
type SMTP struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

func NewSMTP(cfg config.SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, timeout: 15 * time.Second}
}

func (s *SMTP) Send(ctx context.Context, m Message) error {
	msg, err := buildMessage(s.cfg.From, m)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.timeout),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from string, m Message) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)
	return msg, nil
}

// Disabled rejects every message.
type Disabled struct{}

func (Disabled) Send(context.Context, Message) error { return ErrDisabled }

type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Report is the outcome of a bulk send: one failure per recipient that could
// not be delivered, in input order.
type Report struct {
	Sent   int       `json:"sent"`
	Errors []Failure `json:"errors"`
}

// SendBulk delivers msgs with at most concurrency sessions in flight. A
// failed recipient never stops the others.
func SendBulk(ctx context.Context, sender Sender, msgs []Message, concurrency int, logger *zap.Logger) Report {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	errs := make([]error, len(msgs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = sender.Send(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Errors: []Failure{}}
	for i, err := range errs {
		if err == nil {
			report.Sent++
			continue
		}
		logger.Warn("email delivery failed", zap.String("to", msgs[i].To), zap.Error(err))
		report.Errors = append(report.Errors, Failure{Email: msgs[i].To, Error: err.Error()})
	}
	return report
}
