package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/erazemk/passdesk/internal/client"
)

func (a *app) cmdLogin(ctx context.Context, args []string) int {
	fs := a.newFlagSet("login")
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "password (read from stdin if omitted)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	in := bufio.NewReader(a.stdin)
	if *email == "" {
		*email = a.prompt(in, "Email: ")
	}
	if *password == "" {
		*password = a.promptSecret(in, "Password: ")
	}
	if *email == "" || *password == "" {
		fmt.Fprintln(a.stderr, "error: email and password are required")
		return exitError
	}

	user, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		// Bad credentials come back as 401; show the server's wording.
		if errors.Is(err, client.ErrAdminRequired) {
			return a.fail(err, "")
		}
		fmt.Fprintf(a.stderr, "error: %s\n", client.Message(err, "Login failed. "+client.FallbackConnection))
		return exitError
	}

	fmt.Fprintf(a.stdout, "Logged in as %s\n", displayUser(user.FullName(), user.Email))
	return exitOK
}

func (a *app) cmdLogout(ctx context.Context, _ []string) int {
	// An unreadable session cannot be revoked on the server; Logout still
	// removes it locally.
	if err := a.client.Session().Load(); err != nil {
		slog.Warn("stored session unreadable, skipping server logout", "error", err)
	}
	if err := a.client.Logout(ctx); err != nil {
		return a.fail(err, "Failed to log out")
	}
	fmt.Fprintln(a.stdout, "Logged out")
	return exitOK
}

func (a *app) cmdWhoami(ctx context.Context, _ []string) int {
	if !a.requireSession(ctx) {
		return exitError
	}
	u := a.client.Session().User()
	role := "admin"
	if u.IsSuperAdmin {
		role = "superadmin"
	}
	fmt.Fprintf(a.stdout, "%s (%s)\n", displayUser(u.FullName(), u.Email), role)
	return exitOK
}

func (a *app) cmdPasswd(ctx context.Context, args []string) int {
	fs := a.newFlagSet("passwd")
	current := fs.String("current", "", "current password")
	next := fs.String("new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	in := bufio.NewReader(a.stdin)
	if *current == "" {
		*current = a.promptSecret(in, "Current password: ")
	}
	if *next == "" {
		*next = a.promptSecret(in, "New password: ")
	}

	if err := a.client.ChangePassword(ctx, *current, *next); err != nil {
		return a.fail(err, "Failed to change password")
	}
	fmt.Fprintln(a.stdout, "Password updated")
	return exitOK
}

func (a *app) prompt(in *bufio.Reader, label string) string {
	fmt.Fprint(a.stderr, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

// promptSecret reads a line without echo when stdin is a terminal. Piped
// input is read as a plain line.
func (a *app) promptSecret(in *bufio.Reader, label string) string {
	f, ok := a.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return a.prompt(in, label)
	}

	fmt.Fprint(a.stderr, label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.stderr)
	if err != nil {
		slog.Debug("reading password failed", "error", err)
		return ""
	}
	return strings.TrimSpace(string(secret))
}

func displayUser(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
