// Command passd is a local development backend for passdesk. It serves the
// pass API over SQLite and stores pass images on disk.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/passdesk/internal/api"
	"github.com/erazemk/passdesk/internal/db"
	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/objstore"
	"github.com/erazemk/passdesk/internal/store"
)

type options struct {
	dbPath     string
	addr       string
	adminEmail string
	logPath    string
	publicURL  string
	uploads    string
	dayPassTTL time.Duration
	verbose    bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("passd", flag.ContinueOnError)
	o := &options{}

	fs.StringVar(&o.dbPath, "db", "passd.sqlite3", "")
	fs.StringVar(&o.dbPath, "d", "passd.sqlite3", "")
	fs.StringVar(&o.addr, "addr", ":3000", "")
	fs.StringVar(&o.addr, "a", ":3000", "")
	fs.StringVar(&o.adminEmail, "user", "admin@localhost", "")
	fs.StringVar(&o.adminEmail, "u", "admin@localhost", "")
	fs.StringVar(&o.logPath, "log", "", "")
	fs.StringVar(&o.logPath, "l", "", "")
	fs.StringVar(&o.publicURL, "public-url", "", "")
	fs.StringVar(&o.uploads, "uploads", "uploads", "")
	fs.DurationVar(&o.dayPassTTL, "day-pass-ttl", 0, "")
	fs.BoolVar(&o.verbose, "v", false, "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: passd [flags]

Flags:
  -d, -db <path>          SQLite database path (default: passd.sqlite3)
  -a, -addr <host:port>   listen address (default: :3000)
  -u, -user <email>       admin email on first run (default: admin@localhost)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -public-url <url>       base URL clients reach this server at (default: derived from -addr)
  -uploads <dir>          directory for pass images (default: uploads)
  -day-pass-ttl <dur>     expire active day passes older than this (default: 0, never)
  -v                      log debug records too
  -h, -help               show this help and exit
`)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if o.dayPassTTL < 0 {
		return nil, fmt.Errorf("-day-pass-ttl must not be negative")
	}
	if o.publicURL == "" {
		o.publicURL = defaultPublicURL(o.addr)
	}
	o.publicURL = strings.TrimRight(o.publicURL, "/")
	return o, nil
}

func defaultPublicURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// INFO/WARN → stdout, ERROR → stderr, optionally also a file.
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	closeLog, err := setupLogger(os.Stdout, os.Stderr, o.logPath, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(o); err != nil {
		slog.Error("passd failed", "error", err)
		os.Exit(1)
	}
}

func run(o *options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, o.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", o.dbPath)

	password, err := bootstrapAdmin(ctx, database, o.adminEmail)
	if err != nil {
		return err
	}
	if password != "" {
		printInitResult(o.dbPath, o.adminEmail, password)
	}

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	bucket, err := objstore.New(o.uploads, o.publicURL+"/uploads")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(api.Prefix+"/", api.NewRouter(database, jwtSecret, bucket))
	mux.Handle("/uploads/", http.StripPrefix("/uploads", bucket.Handler()))

	server := &http.Server{
		Addr:              o.addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go sweep(ctx, database, o.dayPassTTL)

	errc := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", o.addr, "public_url", o.publicURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	slog.Info("server stopped, closing database")
	return nil
}

// bootstrapAdmin creates the first admin account when the database has no
// users. Returns the generated password, or "" if nothing was created.
func bootstrapAdmin(ctx context.Context, database *sql.DB, email string) (string, error) {
	users, err := store.ListUsers(ctx, database)
	if err != nil {
		return "", err
	}
	if len(users) > 0 {
		return "", nil
	}

	password, err := generatePassword(16)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	if _, err := store.CreateUser(ctx, database, email, "Admin", "", string(hash), model.RoleSuperAdmin); err != nil {
		return "", fmt.Errorf("creating admin user: %w", err)
	}
	if _, err := store.MarkBootstrapped(ctx, database); err != nil {
		return "", err
	}
	slog.Info("admin account created", "email", email)
	return password, nil
}

// sweep periodically expires stale day passes (when ttl > 0) and prunes
// revocations of tokens that expired on their own, until ctx is done.
func sweep(ctx context.Context, database *sql.DB, ttl time.Duration) {
	interval := time.Minute
	if ttl > 0 {
		interval = max(min(ttl/4, time.Minute), time.Second)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		now := time.Now()
		if ttl > 0 {
			n, err := store.ExpireDayPasses(ctx, database, now.Add(-ttl))
			if err != nil && ctx.Err() == nil {
				slog.Error("failed to expire day passes", "error", err)
			}
			if n > 0 {
				slog.Info("passes expired", "count", n, "ttl", ttl)
			}
		}
		if n, err := store.PruneRevokedTokens(ctx, database, now); err != nil && ctx.Err() == nil {
			slog.Error("failed to prune revoked tokens", "error", err)
		} else if n > 0 {
			slog.Debug("revoked tokens pruned", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// printInitResult prints the bootstrap credentials to stdout.
func printInitResult(dbPath, email, password string) {
	fmt.Printf("Database initialized: %s\n", dbPath)
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("Change it with: passdesk passwd")
	fmt.Println()
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
