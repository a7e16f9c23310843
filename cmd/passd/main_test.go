package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/passdesk/internal/db"
	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/store"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-a", "127.0.0.1:9000", "-day-pass-ttl", "12h"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.publicURL != "http://127.0.0.1:9000" || o.dayPassTTL != 12*time.Hour {
		t.Errorf("unexpected options %+v", o)
	}

	o, _ = parseFlags([]string{"-public-url", "https://passes.example.com/", "-v"})
	if o.publicURL != "https://passes.example.com" || o.addr != ":3000" || !o.verbose {
		t.Errorf("unexpected options %+v", o)
	}

	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("expected error for positional argument")
	}
	if _, err := parseFlags([]string{"-day-pass-ttl", "-1h"}); err == nil {
		t.Error("expected error for negative ttl")
	}
	if _, err := parseFlags([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp, got %v", err)
	}
}

func TestDefaultPublicURL(t *testing.T) {
	if got := defaultPublicURL(":3000"); got != "http://localhost:3000" {
		t.Errorf("got %q", got)
	}
	if got := defaultPublicURL("0.0.0.0:80"); got != "http://0.0.0.0:80" {
		t.Errorf("got %q", got)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	password, err := bootstrapAdmin(ctx, database, "root@example.com")
	if err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
	if len(password) != 16 {
		t.Fatalf("expected 16-char password, got %q", password)
	}

	u, _ := store.GetUserByEmail(ctx, database, "root@example.com")
	if u == nil || u.Role != model.RoleSuperAdmin || !u.CanAdminister() {
		t.Fatalf("unexpected admin %+v", u)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		t.Error("stored hash does not match generated password")
	}

	again, err := bootstrapAdmin(ctx, database, "root@example.com")
	if err != nil || again != "" {
		t.Errorf("second bootstrap should be a no-op, got %q, %v", again, err)
	}
}

func TestSweepDayPasses(t *testing.T) {
	database := db.NewTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	p, _ := store.CreatePass(context.Background(), database, store.NewPass{PassType: model.PassTypeDay})
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sweep(ctx, database, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.GetPass(context.Background(), database, p.ID)
		if got.Status == model.StatusExpired {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	got, _ := store.GetPass(context.Background(), database, p.ID)
	if got.Status != model.StatusExpired {
		t.Errorf("expected day pass expired, got %q", got.Status)
	}
}

func TestLevelRouter(t *testing.T) {
	var out, errOut bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	if _, err := setupLogger(&out, &errOut, "", slog.LevelInfo); err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	slog.Info("hello", "k", "v")
	slog.Debug("hidden")
	slog.Error("boom")

	if !strings.Contains(out.String(), "hello") || strings.Contains(out.String(), "boom") {
		t.Errorf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "boom") || strings.Contains(errOut.String(), "hello") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if strings.Contains(out.String(), "hidden") {
		t.Error("debug must be filtered")
	}
}

func TestLevelRouterVerbose(t *testing.T) {
	var out, errOut bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logPath := filepath.Join(t.TempDir(), "passd.log")
	closeLog, err := setupLogger(&out, &errOut, logPath, slog.LevelDebug)
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	slog.With("component", "sweeper").Debug("revoked tokens pruned", "count", 2)
	slog.Error("boom")
	closeLog()

	if !strings.Contains(out.String(), "component=sweeper") || !strings.Contains(out.String(), "count=2") {
		t.Errorf("stdout = %q", out.String())
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "revoked tokens pruned") || !strings.Contains(string(data), "boom") {
		t.Errorf("log file = %q", data)
	}
}
