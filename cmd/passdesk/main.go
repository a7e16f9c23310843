// Command passdesk is the admin client for issuing and redeeming QR passes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/erazemk/passdesk/internal/client"
	"github.com/erazemk/passdesk/internal/config"
	"github.com/erazemk/passdesk/internal/encoder"
	"github.com/erazemk/passdesk/internal/issuer"
	"github.com/erazemk/passdesk/internal/redeem"
	"github.com/erazemk/passdesk/internal/session"
)

const usage = `Usage: passdesk [-v] <command> [flags]

Commands:
  login     log in as an admin
  logout    log out and forget the session
  whoami    show the logged-in admin
  passwd    change your password
  issue     issue a new pass
  scan      redeem a pass code
  watch     redeem codes read line by line from stdin
  list      list passes
  stats     show pass statistics
  export    export passes as CSV
  users     list or create accounts

Environment:
  PASSDESK_API_URL        API base URL (default: http://localhost:3000/api/v1)
  PASSDESK_SESSION_FILE   session file (default: <config dir>/passdesk/session.json)
  PASSDESK_HTTP_TIMEOUT   request timeout, e.g. 30s (default: none)
  PASSDESK_QR_SIZE        QR image size in pixels (default: 256)
`

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitRejected = 2
)

// app carries everything a command needs.
type app struct {
	cfg      config.Config
	client   *client.Client
	issuer   *issuer.Issuer
	encoder  *encoder.Encoder
	redeemer *redeem.Redeemer
	printer  *message.Printer

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	loc    *time.Location
}

func newApp(cfg config.Config, sess *session.Session, stdin io.Reader, stdout, stderr io.Writer) *app {
	c := client.New(cfg.APIURL, sess, client.WithTimeout(cfg.HTTPTimeout))
	enc := encoder.New(c, encoder.WithSize(cfg.QRSize))
	return &app{
		cfg:      cfg,
		client:   c,
		issuer:   issuer.New(c, enc),
		encoder:  enc,
		redeemer: redeem.New(c),
		printer:  message.NewPrinter(userLanguage()),
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		now:      time.Now,
		loc:      time.Local,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("passdesk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if fs.NArg() == 0 {
		fs.Usage()
		return exitError
	}

	cfg, err := config.Load(config.DefaultDotenvFiles...)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	path, err := cfg.SessionPath()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	a := newApp(cfg, session.New(session.NewFileStore(path)), stdin, stdout, stderr)
	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) int {
	commands := map[string]func(context.Context, []string) int{
		"login":  a.cmdLogin,
		"logout": a.cmdLogout,
		"whoami": a.cmdWhoami,
		"passwd": a.cmdPasswd,
		"issue":  a.cmdIssue,
		"scan":   a.cmdScan,
		"watch":  a.cmdWatch,
		"list":   a.cmdList,
		"stats":  a.cmdStats,
		"export": a.cmdExport,
		"users":  a.cmdUsers,
	}
	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(a.stderr, "unknown command: %s\n%s", cmd, usage)
		return exitError
	}
	return fn(ctx, args)
}

// requireSession restores and confirms the stored session.
func (a *app) requireSession(ctx context.Context) bool {
	if _, err := a.client.InitSession(ctx); err != nil {
		a.fail(err, client.FallbackConnection)
		return false
	}
	return true
}

// fail prints one notification line for err.
func (a *app) fail(err error, fallback string) int {
	var msg string
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		msg = client.SessionExpiredText
	case errors.Is(err, client.ErrAdminRequired):
		msg = client.AdminRequiredText
	case client.IsTransport(err) && fallback != client.FallbackConnection:
		msg = client.Message(err, fallback) + ". " + client.FallbackConnection
	default:
		msg = client.Message(err, fallback)
	}
	slog.Debug("command failed", "error", err)
	fmt.Fprintf(a.stderr, "error: %s\n", msg)
	return exitError
}

func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// userLanguage picks the number-formatting language from LANG.
func userLanguage() language.Tag {
	lang := os.Getenv("LANG")
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	if tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-")); err == nil && lang != "" && lang != "C" && lang != "POSIX" {
		return tag
	}
	return language.English
}
