package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"blogapi/cmd/identity"
	"blogapi/cmd/internal/app"
	"blogapi/cmd/security/password"
)

const usage = `usage: blogctl <command> [flags]

commands:
  migrate                      apply schema migrations
  useradd -login L -email E    create an account (password read from stdin)
  passwd  -login L             reset an account password
`

var errUsage = errors.New("invalid usage")

type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.errOut, usage)
		return errUsage
	}
	if err := app.LoadDotEnv(); err != nil {
		return err
	}

	switch args[0] {
	case "migrate":
		return c.migrate(ctx, args[1:])
	case "useradd":
		return c.useradd(ctx, args[1:])
	case "passwd":
		return c.passwd(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(c.out, usage)
		return nil
	default:
		fmt.Fprint(c.errOut, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

// open loads config and opens the stores. migrate forces auto-migration on.
func (c *cli) open(ctx context.Context, migrate bool) (*app.Stores, app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, app.Config{}, err
	}
	if migrate {
		cfg.AutoMigrate = true
	}
	log := slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, app.Config{}, err
	}
	return st, cfg, nil
}

func (c *cli) migrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, cfg, err := c.open(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if !cfg.DBEnabled() {
		return fmt.Errorf("%w: BLOG_STORE=memory has no schema to migrate", errUsage)
	}
	fmt.Fprintf(c.out, "migrations applied (%s)\n", cfg.Store)
	return nil
}

func (c *cli) useradd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	login := fs.String("login", "", "account login")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*login) == "" || strings.TrimSpace(*email) == "" {
		return fmt.Errorf("%w: -login and -email are required", errUsage)
	}

	hash, err := c.readHashedPassword()
	if err != nil {
		return err
	}

	st, cfg, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if !cfg.DBEnabled() {
		return fmt.Errorf("%w: BLOG_STORE=memory does not persist accounts", errUsage)
	}

	u, err := st.Users.CreateUser(ctx, identity.CreateUserInput{
		Login:        *login,
		Email:        *email,
		PasswordHash: hash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created user %s (%s)\n", u.Login, u.ID)
	return nil
}

func (c *cli) passwd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	login := fs.String("login", "", "account login or email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*login) == "" {
		return fmt.Errorf("%w: -login is required", errUsage)
	}

	st, cfg, err := c.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if !cfg.DBEnabled() {
		return fmt.Errorf("%w: BLOG_STORE=memory does not persist accounts", errUsage)
	}

	u, err := st.Users.GetByLoginOrEmail(ctx, *login)
	if err != nil {
		return err
	}
	hash, err := c.readHashedPassword()
	if err != nil {
		return err
	}
	if err := st.Users.UpdatePasswordHash(ctx, u.ID, hash, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "password updated for %s\n", u.Login)
	return nil
}

// readHashedPassword prompts twice on a terminal, or reads one line from a pipe,
// and returns the argon2id hash.
func (c *cli) readHashedPassword() (string, error) {
	pw, err := password.FromEnv()
	if err != nil {
		return "", err
	}

	var plain string
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { // #nosec G115 -- fd fits in int.
		first, err := c.prompt(f, "Password: ")
		if err != nil {
			return "", err
		}
		second, err := c.prompt(f, "Repeat password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passwords do not match")
		}
		plain = first
	} else {
		line, err := bufio.NewReader(c.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		plain = strings.TrimRight(line, "\r\n")
	}

	if err := pw.Validate(plain); err != nil {
		return "", fmt.Errorf("%s: %w", pw.Message(err), err)
	}
	return pw.Hash(plain)
}

func (c *cli) prompt(f *os.File, label string) (string, error) {
	fmt.Fprint(c.errOut, label)
	b, err := term.ReadPassword(int(f.Fd())) // #nosec G115 -- fd fits in int.
	fmt.Fprintln(c.errOut)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
