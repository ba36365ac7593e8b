// Package mailer delivers transactional email for the auth subsystem.
//
// A Mailer can probe its channel before a flow starts and send a rendered
// Message. SMTP delivery uses github.com/wneessen/go-mail; the log driver keeps
// an in-memory outbox for development and tests.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrUnavailable wraps probe failures.
var ErrUnavailable = errors.New("mail channel unavailable")

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer probes and sends.
type Mailer interface {
	Probe(ctx context.Context) error
	Send(ctx context.Context, m Message) error
}

// New builds the Mailer selected by cfg.Driver.
func New(cfg Config, log *slog.Logger) (Mailer, error) {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.Driver {
	case DriverSMTP:
		return NewSMTP(cfg.SMTP, log)
	case DriverLog:
		return NewLogMailer(log), nil
	case DriverNoop:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mail driver %q", ErrConfig, cfg.Driver)
	}
}

// Noop accepts everything and delivers nothing.
type Noop struct{}

func (Noop) Probe(context.Context) error         { return nil }
func (Noop) Send(context.Context, Message) error { return nil }

// LogMailer logs each message and keeps it in an outbox.
type LogMailer struct {
	log *slog.Logger

	mu       sync.Mutex
	outbox   []Message
	probeErr error
	sendErr  error
}

// NewLogMailer returns an empty LogMailer.
func NewLogMailer(log *slog.Logger) *LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return &LogMailer{log: log}
}

// FailWith makes later Probe and Send calls return the given errors (nil restores success).
func (l *LogMailer) FailWith(probeErr, sendErr error) {
	l.mu.Lock()
	l.probeErr, l.sendErr = probeErr, sendErr
	l.mu.Unlock()
}

func (l *LogMailer) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.probeErr != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, l.probeErr)
	}
	return nil
}

func (l *LogMailer) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.outbox = append(l.outbox, m)
	// The body carries one-time codes; only the envelope is logged.
	l.log.Info("mail.send", "driver", "log", "to", maskAddress(m.To), "subject", m.Subject)
	return nil
}

// Outbox returns a copy of every sent message.
func (l *LogMailer) Outbox() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.outbox...)
}

// Last returns the most recent message sent to addr.
func (l *LogMailer) Last(addr string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.outbox) - 1; i >= 0; i-- {
		if strings.EqualFold(l.outbox[i].To, addr) {
			return l.outbox[i], true
		}
	}
	return Message{}, false
}

// maskAddress keeps the first rune of the local part and the domain.
func maskAddress(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
