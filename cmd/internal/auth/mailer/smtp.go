package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// SMTP delivers through an SMTP relay. Each call dials a fresh connection, so a
// dropped connection never poisons later sends.
type SMTP struct {
	cfg SMTPConfig
	log *slog.Logger
}

// NewSMTP validates cfg and returns an SMTP mailer.
func NewSMTP(cfg SMTPConfig, log *slog.Logger) (*SMTP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &SMTP{cfg: cfg, log: log}, nil
}

func (s *SMTP) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.SendTimeout),
		mail.WithTLSPolicy(tlsPolicy(s.cfg.TLS)),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

// Probe dials and authenticates within ConnectTimeout, then disconnects.
func (s *SMTP) Probe(ctx context.Context) error {
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := c.DialWithContext(ctx); err != nil {
		s.log.Warn("mail.probe.fail", "host", s.cfg.Host, "port", s.cfg.Port, "err", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	_ = c.Close()
	return nil
}

// Send renders m into a MIME message and delivers it within SendTimeout.
func (s *SMTP) Send(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("mailer: from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("mailer: to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextHTML, m.HTML)
	if m.Text != "" {
		msg.AddAlternativeString(mail.TypeTextPlain, m.Text)
	}

	c, err := s.client()
	if err != nil {
		return fmt.Errorf("mailer: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout+s.cfg.SendTimeout)
	defer cancel()

	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		s.log.Warn("mail.send.fail", "host", s.cfg.Host, "subject", m.Subject, "err", err)
		return fmt.Errorf("mailer: send: %w", err)
	}
	s.log.Info("mail.send", "driver", "smtp", "to", maskAddress(m.To), "subject", m.Subject)
	return nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}
