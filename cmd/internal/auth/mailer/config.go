package mailer

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid mail config")

// Driver names a delivery backend.
type Driver string

const (
	DriverSMTP Driver = "smtp"
	DriverLog  Driver = "log"
	DriverNoop Driver = "noop"
)

// Config selects the driver and holds SMTP settings.
type Config struct {
	Driver Driver
	SMTP   SMTPConfig
}

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// TLS is one of "mandatory", "opportunistic", "none".
	TLS string

	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

// DefaultConfig logs mail instead of sending it.
func DefaultConfig() Config {
	return Config{
		Driver: DriverLog,
		SMTP: SMTPConfig{
			Port:           587,
			TLS:            "mandatory",
			ConnectTimeout: 5 * time.Second,
			SendTimeout:    10 * time.Second,
		},
	}
}

// LoadConfigFromEnv reads BLOG_MAIL_DRIVER and BLOG_SMTP_* variables:
// HOST, PORT, USER, PASSWORD, FROM, TLS, CONNECT_TIMEOUT, SEND_TIMEOUT.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("BLOG_MAIL_DRIVER")); v != "" {
		cfg.Driver = Driver(strings.ToLower(v))
	}

	s := &cfg.SMTP
	s.Host = strings.TrimSpace(os.Getenv("BLOG_SMTP_HOST"))
	s.Username = os.Getenv("BLOG_SMTP_USER")
	s.Password = os.Getenv("BLOG_SMTP_PASSWORD")
	s.From = strings.TrimSpace(os.Getenv("BLOG_SMTP_FROM"))
	if v := strings.TrimSpace(os.Getenv("BLOG_SMTP_TLS")); v != "" {
		s.TLS = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("BLOG_SMTP_PORT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return Config{}, fmt.Errorf("%w: BLOG_SMTP_PORT", ErrConfig)
		}
		s.Port = n
	}
	for name, dst := range map[string]*time.Duration{
		"BLOG_SMTP_CONNECT_TIMEOUT": &s.ConnectTimeout,
		"BLOG_SMTP_SEND_TIMEOUT":    &s.SendTimeout,
	} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return Config{}, fmt.Errorf("%w: %s", ErrConfig, name)
			}
			*dst = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver-specific requirements.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverLog, DriverNoop:
		return nil
	case DriverSMTP:
		return c.SMTP.validate()
	default:
		return fmt.Errorf("%w: unknown mail driver %q", ErrConfig, c.Driver)
	}
}

func (s SMTPConfig) validate() error {
	switch {
	case s.Host == "":
		return fmt.Errorf("%w: smtp host is required", ErrConfig)
	case s.From == "":
		return fmt.Errorf("%w: smtp from address is required", ErrConfig)
	case s.Port <= 0:
		return fmt.Errorf("%w: smtp port", ErrConfig)
	}
	switch s.TLS {
	case "mandatory", "opportunistic", "none":
	default:
		return fmt.Errorf("%w: smtp tls policy %q", ErrConfig, s.TLS)
	}
	return nil
}
