package mailer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMessage(t *testing.T) {
	m, err := RecoveryMessage("https://blog.example.com/", "reader@example.com", "c0de-1")
	require.NoError(t, err)

	assert.Equal(t, RecoverySubject, m.Subject)
	assert.Equal(t, "reader@example.com", m.To)
	assert.Contains(t, m.HTML, `href="https://blog.example.com/password-recovery?recoveryCode=c0de-1"`)
	assert.Contains(t, m.Text, "recoveryCode=c0de-1")
}

func TestRecoveryLink_EscapesCode(t *testing.T) {
	link := RecoveryLink("http://localhost:3000", "a b&c")
	assert.Equal(t, "http://localhost:3000/password-recovery?recoveryCode=a+b%26c", link)
}

func TestLogMailer_OutboxAndFailures(t *testing.T) {
	l := NewLogMailer(slog.New(slog.DiscardHandler))
	ctx := context.Background()

	to := gofakeit.Email()
	require.NoError(t, l.Probe(ctx))
	require.NoError(t, l.Send(ctx, Message{To: to, Subject: "one"}))
	require.NoError(t, l.Send(ctx, Message{To: to, Subject: "two"}))

	last, ok := l.Last(strings.ToUpper(to))
	require.True(t, ok)
	assert.Equal(t, "two", last.Subject)
	assert.Len(t, l.Outbox(), 2)

	boom := errors.New("boom")
	l.FailWith(boom, boom)
	assert.ErrorIs(t, l.Probe(ctx), ErrUnavailable)
	assert.ErrorIs(t, l.Send(ctx, Message{To: to}), boom)
	assert.Len(t, l.Outbox(), 2)

	l.FailWith(nil, nil)
	assert.NoError(t, l.Probe(ctx))
}

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "r***@example.com", maskAddress("reader@example.com"))
	assert.Equal(t, "***", maskAddress("@example.com"))
	assert.Equal(t, "***", maskAddress("nope"))
}

func TestNew_Drivers(t *testing.T) {
	m, err := New(Config{Driver: DriverNoop}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, m)

	m, err = New(Config{Driver: DriverLog}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	_, err = New(Config{Driver: "pigeon"}, nil)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(Config{Driver: DriverSMTP, SMTP: SMTPConfig{Port: 25, TLS: "none"}}, nil)
	assert.ErrorIs(t, err, ErrConfig, "missing host")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BLOG_MAIL_DRIVER", "SMTP")
	t.Setenv("BLOG_SMTP_HOST", "smtp.example.com")
	t.Setenv("BLOG_SMTP_PORT", "2525")
	t.Setenv("BLOG_SMTP_FROM", "Blog <no-reply@example.com>")
	t.Setenv("BLOG_SMTP_TLS", "opportunistic")
	t.Setenv("BLOG_SMTP_CONNECT_TIMEOUT", "2s")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DriverSMTP, cfg.Driver)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, 2*time.Second, cfg.SMTP.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.SMTP.SendTimeout)

	t.Setenv("BLOG_SMTP_PORT", "70000")
	_, err = LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSMTP_ProbeUnreachable(t *testing.T) {
	// Reserve a port, then close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, err := NewSMTP(SMTPConfig{
		Host:           "127.0.0.1",
		Port:           port,
		From:           "no-reply@example.com",
		TLS:            "none",
		ConnectTimeout: time.Second,
		SendTimeout:    time.Second,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Probe(context.Background()), ErrUnavailable)
	assert.Error(t, s.Send(context.Background(), Message{To: "reader@example.com", Subject: "x", HTML: "<p>x</p>"}))
}
