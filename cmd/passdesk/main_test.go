package main

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/passdesk/internal/api"
	"github.com/erazemk/passdesk/internal/auth"
	"github.com/erazemk/passdesk/internal/config"
	"github.com/erazemk/passdesk/internal/db"
	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/objstore"
	"github.com/erazemk/passdesk/internal/session"
	"github.com/erazemk/passdesk/internal/store"
)

const testPassword = "password"

type cliEnv struct {
	db     *sql.DB
	sess   *session.Session
	cfg    config.Config
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	database := db.NewTestDB(t)
	bucket, err := objstore.New(t.TempDir(), "http://images.test/uploads")
	if err != nil {
		t.Fatalf("objstore.New: %v", err)
	}
	server := httptest.NewServer(api.NewRouter(database, "test-secret", bucket))
	t.Cleanup(server.Close)

	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	store.CreateUser(ctx, database, "admin@example.com", "Ada", "Admin", string(hash), model.RoleAdmin)
	store.CreateUser(ctx, database, "guest@example.com", "Gus", "Guest", string(hash), model.RoleUser)

	return &cliEnv{
		db:   database,
		sess: session.New(session.NewMemoryStore()),
		cfg: config.Config{
			APIURL: server.URL + api.Prefix,
			QRSize: 256,
		},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
}

// exec runs one command with a fresh app sharing the session, as separate
// invocations of the binary would.
func (e *cliEnv) exec(t *testing.T, stdin string, args ...string) int {
	t.Helper()
	e.stdout.Reset()
	e.stderr.Reset()
	a := newApp(e.cfg, e.sess, strings.NewReader(stdin), e.stdout, e.stderr)
	a.loc = time.UTC
	return a.dispatch(context.Background(), args[0], args[1:])
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	if code := e.exec(t, "", "login", "-email", "admin@example.com", "-password", testPassword); code != exitOK {
		t.Fatalf("login exit %d: %s", code, e.stderr)
	}
}

func (e *cliEnv) firstCode(t *testing.T) string {
	t.Helper()
	passes, _, err := store.ListPasses(context.Background(), e.db, "", 1, 0)
	if err != nil || len(passes) == 0 {
		t.Fatalf("no passes: %v", err)
	}
	return passes[0].Code
}

func TestLoginPrompt(t *testing.T) {
	e := setupCLI(t)

	code := e.exec(t, "admin@example.com\n"+testPassword+"\n", "login")
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, e.stderr)
	}
	if !strings.Contains(e.stdout.String(), "Ada Admin <admin@example.com>") {
		t.Errorf("unexpected output %q", e.stdout)
	}

	e.exec(t, "", "whoami")
	if !strings.Contains(e.stdout.String(), "(admin)") {
		t.Errorf("whoami = %q", e.stdout)
	}
}

func TestLoginRejectsNonAdmin(t *testing.T) {
	e := setupCLI(t)

	code := e.exec(t, "", "login", "-email", "guest@example.com", "-password", testPassword)
	if code != exitError {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(e.stderr.String(), "Admin") {
		t.Errorf("stderr = %q", e.stderr)
	}
	if e.sess.Authenticated() {
		t.Error("session must stay empty")
	}
}

func TestLoginBadPassword(t *testing.T) {
	e := setupCLI(t)

	if code := e.exec(t, "", "login", "-email", "admin@example.com", "-password", "wrong"); code != exitError {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.HasPrefix(e.stderr.String(), "error: ") {
		t.Errorf("stderr = %q", e.stderr)
	}
}

func TestCommandsRequireSession(t *testing.T) {
	e := setupCLI(t)

	for _, cmd := range []string{"stats", "list", "whoami"} {
		if code := e.exec(t, "", cmd); code != exitError {
			t.Errorf("%s: expected failure, got %d", cmd, code)
		}
	}
}

func TestIssueAndScan(t *testing.T) {
	e := setupCLI(t)
	e.login(t)
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "pass.png")
	svgPath := filepath.Join(dir, "pass.svg")

	code := e.exec(t, "", "issue", "-type", "day", "-first", "Walk", "-last", "In", "-png", pngPath, "-svg", svgPath)
	if code != exitOK {
		t.Fatalf("issue exit %d: %s", code, e.stderr)
	}
	out := e.stdout.String()
	if !strings.Contains(out, "Day Pass") || !strings.Contains(out, "Walk In") {
		t.Errorf("issue output %q", out)
	}
	if !strings.Contains(out, "http://images.test/uploads/qr/") {
		t.Errorf("expected stored image url in %q", out)
	}
	if data, err := os.ReadFile(pngPath); err != nil || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("png file: %v", err)
	}
	if data, err := os.ReadFile(svgPath); err != nil || !bytes.Contains(data, []byte("<svg")) {
		t.Errorf("svg file: %v", err)
	}

	passCode := e.firstCode(t)
	if code := e.exec(t, "", "scan", passCode); code != exitOK {
		t.Fatalf("scan exit %d: %s", code, e.stderr)
	}
	if !strings.Contains(e.stdout.String(), "ADMITTED") {
		t.Errorf("scan output %q", e.stdout)
	}

	if code := e.exec(t, "", "scan", passCode); code != exitRejected {
		t.Fatalf("second scan exit %d", code)
	}
	out = e.stdout.String()
	if !strings.Contains(out, "QR code already used") || !strings.Contains(out, "by Ada Admin") {
		t.Errorf("second scan output %q", out)
	}
}

func TestIssueInvalidType(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	if code := e.exec(t, "", "issue", "-type", "vip"); code != exitError {
		t.Fatalf("expected failure, got %d", code)
	}
	n, _, _ := store.ListPasses(context.Background(), e.db, "", 10, 0)
	if len(n) != 0 {
		t.Errorf("no pass should be created, got %d", len(n))
	}
}

func TestScanUnknownAndEmpty(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	if code := e.exec(t, "", "scan", "NOPE"); code != exitRejected {
		t.Fatalf("expected rejection, got %d", code)
	}
	if !strings.Contains(e.stdout.String(), "Invalid QR code") {
		t.Errorf("output %q", e.stdout)
	}

	if code := e.exec(t, "", "scan"); code != exitError {
		t.Fatalf("expected error, got %d", code)
	}
	if !strings.Contains(e.stderr.String(), "Please enter a QR code") {
		t.Errorf("stderr %q", e.stderr)
	}
}

func TestWatch(t *testing.T) {
	e := setupCLI(t)
	e.login(t)
	e.exec(t, "", "issue", "-upload=false")
	passCode := e.firstCode(t)

	if code := e.exec(t, "\n"+passCode+"\n", "watch"); code != exitOK {
		t.Fatalf("watch exit %d: %s", code, e.stderr)
	}
	if !strings.Contains(e.stdout.String(), "ADMITTED") {
		t.Errorf("watch output %q", e.stdout)
	}
	if !strings.Contains(e.stderr.String(), "dropped") {
		t.Errorf("watch stderr %q", e.stderr)
	}
}

func TestListStatsExport(t *testing.T) {
	e := setupCLI(t)
	e.login(t)
	for i := 0; i < 3; i++ {
		e.exec(t, "", "issue", "-upload=false", "-email", "guest@example.com")
	}
	e.exec(t, "", "scan", e.firstCode(t))

	if code := e.exec(t, "", "list", "-limit", "2"); code != exitOK {
		t.Fatalf("list exit %d: %s", code, e.stderr)
	}
	if !strings.Contains(e.stdout.String(), "Page 1 of 2 (3 total)") {
		t.Errorf("list output %q", e.stdout)
	}

	if code := e.exec(t, "", "list", "-status", "bogus"); code != exitError {
		t.Errorf("expected invalid status to fail, got %d", code)
	}

	if code := e.exec(t, "", "stats"); code != exitOK {
		t.Fatalf("stats exit %d: %s", code, e.stderr)
	}
	if out := e.stdout.String(); !strings.Contains(out, "Total") || !strings.Contains(out, "3") {
		t.Errorf("stats output %q", out)
	}

	if code := e.exec(t, "", "export", "-all", "-status", "used", "-o", "-"); code != exitOK {
		t.Fatalf("export exit %d: %s", code, e.stderr)
	}
	lines := strings.Split(strings.TrimSpace(e.stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", e.stdout)
	}
	if !strings.Contains(lines[1], `"Gus Guest"`) || !strings.Contains(lines[1], `"used"`) {
		t.Errorf("row %q", lines[1])
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	if code := e.exec(t, "", "export", "-all", "-o", path); code != exitOK {
		t.Fatalf("export to file exit %d: %s", code, e.stderr)
	}
	data, err := os.ReadFile(path)
	if err != nil || strings.Count(string(data), "\n") != 4 {
		t.Errorf("export file: %v %q", err, data)
	}
}

func TestUsers(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	if code := e.exec(t, "", "users", "-create", "new@example.com", "-first", "New", "-last", "Person"); code != exitOK {
		t.Fatalf("create exit %d: %s", code, e.stderr)
	}
	if code := e.exec(t, "", "users", "-create", "new@example.com"); code != exitError {
		t.Errorf("duplicate create should fail, got %d", code)
	}

	e.exec(t, "", "users")
	out := e.stdout.String()
	for _, want := range []string{"new@example.com", "New Person", "admin@example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("users output missing %q: %q", want, out)
		}
	}
}

func TestLogout(t *testing.T) {
	e := setupCLI(t)
	e.login(t)

	if code := e.exec(t, "", "logout"); code != exitOK {
		t.Fatalf("logout exit %d: %s", code, e.stderr)
	}
	if e.sess.Authenticated() {
		t.Error("session should be cleared")
	}
	if code := e.exec(t, "", "stats"); code != exitError {
		t.Errorf("expected stats to fail after logout, got %d", code)
	}
}

func TestUnknownCommand(t *testing.T) {
	e := setupCLI(t)
	if code := e.exec(t, "", "frobnicate"); code != exitError {
		t.Errorf("expected failure, got %d", code)
	}
}

func TestPromptSecretPipedInput(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	w.WriteString("s3cret\n")
	w.Close()

	var stderr bytes.Buffer
	a := &app{stdin: r, stderr: &stderr}
	if got := a.promptSecret(bufio.NewReader(r), "Password: "); got != "s3cret" {
		t.Errorf("promptSecret = %q", got)
	}
	if stderr.String() != "Password: " {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestLogoutCorruptSession(t *testing.T) {
	e := setupCLI(t)
	path := filepath.Join(t.TempDir(), "session.json")
	os.WriteFile(path, []byte("{nope"), 0o600)

	var logs bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))

	a := newApp(e.cfg, session.New(session.NewFileStore(path)), strings.NewReader(""), e.stdout, e.stderr)
	if code := a.dispatch(context.Background(), "logout", nil); code != exitOK {
		t.Fatalf("logout exit %d: %s", code, e.stderr)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "stored session unreadable") {
		t.Errorf("logs = %q", logs.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corrupt session file should be removed, stat err = %v", err)
	}
}

func TestWatchInterruptWithServerStuck(t *testing.T) {
	scanStarted := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.Prefix+"/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"user":{"id":"u1","email":"admin@example.com","isAdmin":true}}}`)
	})
	mux.HandleFunc("POST "+api.Prefix+"/qr/scan", func(w http.ResponseWriter, r *http.Request) {
		close(scanStarted)
		<-release
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	token, err := auth.GenerateToken("secret", "u1", "admin@example.com", model.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	sess := session.New(session.NewMemoryStore())
	sess.Set(token, nil)

	stdinR, stdinW := io.Pipe()
	t.Cleanup(func() { stdinW.Close() })
	var stdout, stderr bytes.Buffer
	a := newApp(config.Config{APIURL: server.URL + api.Prefix, QRSize: 256}, sess, stdinR, &stdout, &stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- a.cmdWatch(ctx, nil) }()

	go io.WriteString(stdinW, "CODE\n")
	select {
	case <-scanStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("scan request never reached the server")
	}

	cancel()
	select {
	case code := <-done:
		if code != exitOK {
			t.Errorf("watch exit %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after interrupt")
	}
}
