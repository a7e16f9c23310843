package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/passdesk/internal/db"
	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/objstore"
	"github.com/erazemk/passdesk/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	db     *sql.DB
	bucket *objstore.Bucket
	token  string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	bucket, err := objstore.New(t.TempDir(), "http://images.test/uploads")
	if err != nil {
		t.Fatalf("objstore.New: %v", err)
	}
	server := httptest.NewServer(NewRouter(database, testJWTSecret, bucket))
	t.Cleanup(server.Close)

	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	store.CreateUser(ctx, database, "admin@example.com", "Ada", "Admin", string(hash), model.RoleAdmin)

	return &testEnv{
		server: server,
		db:     database,
		bucket: bucket,
		token:  login(t, server.URL, "admin@example.com", "password"),
	}
}

func login(t *testing.T, base, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(base+Prefix+"/admin/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			Token string     `json:"token"`
			User  model.User `json:"user"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Data.Token == "" {
		t.Fatal("empty token from login")
	}
	return out.Data.Token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// call performs an authenticated request and decodes the JSON body into out.
func (e *testEnv) call(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	req, _ := authRequest(method, e.server.URL+Prefix+path, e.token, body)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

type passEnvelope struct {
	Message string      `json:"message"`
	Details string      `json:"details"`
	Data    *model.Pass `json:"data"`
}

func (e *testEnv) generate(t *testing.T, body map[string]string) *model.Pass {
	t.Helper()
	var out passEnvelope
	if status := e.call(t, "POST", "/qr/generate", body, &out); status != http.StatusCreated {
		t.Fatalf("generate: expected 201, got %d (%s)", status, out.Message)
	}
	return out.Data
}

func TestLoginEndpoint(t *testing.T) {
	e := setupTestServer(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"bad password", map[string]string{"email": "admin@example.com", "password": "wrong"}, http.StatusUnauthorized},
		{"unknown email", map[string]string{"email": "nobody@example.com", "password": "password"}, http.StatusUnauthorized},
		{"missing fields", map[string]string{"email": "admin@example.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(tt.body)
		resp, _ := http.Post(e.server.URL+Prefix+"/admin/login", "application/json", bytes.NewReader(body))
		if resp.StatusCode != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.status, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Email lookup is case-insensitive.
	login(t, e.server.URL, "ADMIN@example.com", "password")
}

func TestMeAndLogout(t *testing.T) {
	e := setupTestServer(t)

	var me struct {
		Data struct {
			User model.User `json:"user"`
		} `json:"data"`
	}
	if status := e.call(t, "GET", "/auth/me", nil, &me); status != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", status)
	}
	if me.Data.User.Email != "admin@example.com" || !me.Data.User.IsAdmin {
		t.Errorf("unexpected user %+v", me.Data.User)
	}

	if status := e.call(t, "POST", "/admin/logout", nil, nil); status != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", status)
	}
	if status := e.call(t, "GET", "/auth/me", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected revoked token to get 401, got %d", status)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	e := setupTestServer(t)

	resp, _ := http.Get(e.server.URL + Prefix + "/qr/all")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestNonAdminForbidden(t *testing.T) {
	e := setupTestServer(t)

	hash, _ := bcrypt.GenerateFromPassword([]byte("attendee-pass"), bcrypt.MinCost)
	store.CreateUser(context.Background(), e.db, "guest@example.com", "", "", string(hash), model.RoleUser)
	e.token = login(t, e.server.URL, "guest@example.com", "attendee-pass")

	var out map[string]string
	status := e.call(t, "POST", "/qr/generate", map[string]string{"passType": "day_pass"}, &out)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if out["message"] != "Admin access required" {
		t.Errorf("unexpected message %q", out["message"])
	}
}

func TestGeneratePass(t *testing.T) {
	e := setupTestServer(t)
	store.CreateUser(context.Background(), e.db, "ana@example.com", "Ana", "Kova", "", model.RoleUser)

	var out passEnvelope
	if status := e.call(t, "POST", "/qr/generate", map[string]string{"passType": "vip"}, &out); status != http.StatusBadRequest {
		t.Errorf("invalid type: expected 400, got %d", status)
	}
	if out.Message != "Invalid pass type" {
		t.Errorf("unexpected message %q", out.Message)
	}

	status := e.call(t, "POST", "/qr/generate", map[string]string{"passType": "day_pass", "userEmail": "ghost@example.com"}, &out)
	if status != http.StatusNotFound || out.Message != "User not found" {
		t.Errorf("unknown email: got %d %q", status, out.Message)
	}

	p := e.generate(t, map[string]string{"passType": "full_pass", "userEmail": "ana@example.com"})
	if p.Status != model.StatusActive || p.PassType != model.PassTypeFull {
		t.Errorf("unexpected pass %+v", p)
	}
	if p.User == nil || p.User.Email != "ana@example.com" {
		t.Errorf("expected bound user, got %+v", p.User)
	}

	anon := e.generate(t, map[string]string{"passType": "day_pass", "firstName": "Walk", "lastName": "In"})
	if anon.Bound() || anon.HolderName() != "Walk In" {
		t.Errorf("unexpected anonymous pass %+v", anon)
	}
	if anon.Code == p.Code {
		t.Error("expected distinct codes")
	}
}

func TestScanFlow(t *testing.T) {
	e := setupTestServer(t)
	p := e.generate(t, map[string]string{"passType": "day_pass", "firstName": "Walk", "lastName": "In"})

	var first passEnvelope
	if status := e.call(t, "POST", "/qr/scan", map[string]string{"code": p.Code}, &first); status != http.StatusOK {
		t.Fatalf("first scan: expected 200, got %d", status)
	}
	if first.Data == nil || first.Data.Status != model.StatusUsed || first.Data.ScannedAt == nil {
		t.Fatalf("unexpected first scan data %+v", first.Data)
	}
	if first.Details != "Day Pass for Walk In" {
		t.Errorf("unexpected details %q", first.Details)
	}

	var second passEnvelope
	if status := e.call(t, "POST", "/qr/scan", map[string]string{"code": p.Code}, &second); status != http.StatusBadRequest {
		t.Fatalf("second scan: expected 400, got %d", status)
	}
	if second.Data == nil || second.Data.Status != model.StatusUsed {
		t.Fatalf("expected used pass in data, got %+v", second.Data)
	}
	if !second.Data.ScannedAt.Equal(*first.Data.ScannedAt) {
		t.Errorf("scannedAt changed: %v vs %v", first.Data.ScannedAt, second.Data.ScannedAt)
	}
	if !strings.Contains(second.Details, "Ada Admin") {
		t.Errorf("expected scanner in details, got %q", second.Details)
	}

	var unknown passEnvelope
	if status := e.call(t, "POST", "/qr/scan", map[string]string{"code": "NOPE"}, &unknown); status != http.StatusNotFound {
		t.Errorf("unknown code: expected 404, got %d", status)
	}
	if unknown.Message != "Invalid QR code" || unknown.Data != nil {
		t.Errorf("unexpected unknown-code body %+v", unknown)
	}

	if status := e.call(t, "POST", "/qr/scan", map[string]string{"code": "  "}, nil); status != http.StatusBadRequest {
		t.Errorf("blank code: expected 400, got %d", status)
	}
}

func TestScanExpiredPass(t *testing.T) {
	e := setupTestServer(t)
	p := e.generate(t, map[string]string{"passType": "day_pass"})
	e.db.Exec(`UPDATE passes SET status = 'expired' WHERE code = ?`, p.Code)

	var out passEnvelope
	if status := e.call(t, "POST", "/qr/scan", map[string]string{"code": p.Code}, &out); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if out.Data == nil || out.Data.Status != model.StatusExpired || out.Data.ScannedAt != nil {
		t.Errorf("unexpected data %+v", out.Data)
	}
}

func TestListAndStats(t *testing.T) {
	e := setupTestServer(t)
	var codes []string
	for i := 0; i < 12; i++ {
		codes = append(codes, e.generate(t, map[string]string{"passType": "day_pass"}).Code)
	}
	e.call(t, "POST", "/qr/scan", map[string]string{"code": codes[0]}, nil)

	var list struct {
		Data listResponse `json:"data"`
	}
	if status := e.call(t, "GET", "/qr/all?page=2&limit=5", nil, &list); status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	want := model.Pagination{Page: 2, Limit: 5, Total: 12, TotalPages: 3}
	if list.Data.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", list.Data.Pagination, want)
	}
	if len(list.Data.QRCodes) != 5 {
		t.Errorf("expected 5 codes on page 2, got %d", len(list.Data.QRCodes))
	}

	e.call(t, "GET", "/qr/all?status=used", nil, &list)
	if list.Data.Pagination.Total != 1 || list.Data.QRCodes[0].Code != codes[0] {
		t.Errorf("unexpected used listing %+v", list.Data)
	}

	e.call(t, "GET", "/qr/all?status=expired", nil, &list)
	if list.Data.QRCodes == nil || len(list.Data.QRCodes) != 0 {
		t.Errorf("expected empty non-nil list, got %+v", list.Data.QRCodes)
	}

	if status := e.call(t, "GET", "/qr/all?status=bogus", nil, nil); status != http.StatusBadRequest {
		t.Errorf("bogus status: expected 400, got %d", status)
	}

	var stats struct {
		Data model.Stats `json:"data"`
	}
	e.call(t, "GET", "/qr/stats/overview", nil, &stats)
	if stats.Data != (model.Stats{Total: 12, Active: 11, Used: 1}) {
		t.Errorf("unexpected stats %+v", stats.Data)
	}
}

func testPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	img.SetGray(1, 1, color.Gray{Y: 255})
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func multipartUpload(t *testing.T, e *testEnv, code string, data []byte) (int, map[string]string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("qrCode", code)
	fw, _ := mw.CreateFormFile("image", "qr-"+code+".png")
	fw.Write(data)
	mw.Close()

	req, _ := http.NewRequest("POST", e.server.URL+Prefix+"/qr/upload-to-s3", &body)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestUploadImage(t *testing.T) {
	e := setupTestServer(t)
	p := e.generate(t, map[string]string{"passType": "full_pass"})

	status, out := multipartUpload(t, e, p.Code, testPNG())
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, out)
	}
	wantURL := "http://images.test/uploads/qr/" + p.ID + ".png"
	if out["s3Url"] != wantURL {
		t.Errorf("s3Url = %q, want %q", out["s3Url"], wantURL)
	}

	stored, _ := e.bucket.Get("qr/" + p.ID + ".png")
	if len(stored) == 0 {
		t.Error("expected object in bucket")
	}

	got, _ := store.GetPassByCode(context.Background(), e.db, p.Code)
	if got.ImageURL != wantURL || got.Status != model.StatusActive {
		t.Errorf("unexpected pass after upload %+v", got)
	}

	if status, _ := multipartUpload(t, e, "NOPE", testPNG()); status != http.StatusNotFound {
		t.Errorf("unknown code: expected 404, got %d", status)
	}
	if status, _ := multipartUpload(t, e, p.Code, []byte("GIF89a")); status != http.StatusBadRequest {
		t.Errorf("gif: expected 400, got %d", status)
	}
}

func TestUsersAdmin(t *testing.T) {
	e := setupTestServer(t)

	var created struct {
		Data struct {
			User model.User `json:"user"`
		} `json:"data"`
	}
	status := e.call(t, "POST", "/admin/users", map[string]string{
		"email": "bob@example.com", "firstName": "Bob", "lastName": "Builder",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", status)
	}
	if created.Data.User.IsAdmin {
		t.Error("default role should not be admin")
	}

	if status := e.call(t, "POST", "/admin/users", map[string]string{"email": "BOB@example.com"}, nil); status != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", status)
	}
	if status := e.call(t, "POST", "/admin/users", map[string]string{"email": "x@example.com", "role": "admin"}, nil); status != http.StatusBadRequest {
		t.Errorf("admin without password: expected 400, got %d", status)
	}
	if status := e.call(t, "POST", "/admin/users", map[string]string{"email": "y@example.com", "role": "superadmin", "password": "longenough"}, nil); status != http.StatusBadRequest {
		t.Errorf("superadmin via api: expected 400, got %d", status)
	}

	var list struct {
		Data struct {
			Users []model.User `json:"users"`
		} `json:"data"`
	}
	e.call(t, "GET", "/admin/users", nil, &list)
	if len(list.Data.Users) != 2 {
		t.Errorf("expected 2 users, got %d", len(list.Data.Users))
	}
}

func TestChangePassword(t *testing.T) {
	e := setupTestServer(t)

	body := map[string]string{"currentPassword": "wrong", "newPassword": "new-password"}
	if status := e.call(t, "PUT", "/auth/password", body, nil); status != http.StatusBadRequest {
		t.Errorf("wrong current: expected 400, got %d", status)
	}

	body["currentPassword"] = "password"
	if status := e.call(t, "PUT", "/auth/password", body, nil); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	login(t, e.server.URL, "admin@example.com", "new-password")
}

func TestListPageOutOfRange(t *testing.T) {
	e := setupTestServer(t)
	e.generate(t, map[string]string{"passType": "day_pass"})

	var list struct {
		Message string       `json:"message"`
		Data    listResponse `json:"data"`
	}
	status := e.call(t, "GET", "/qr/all?page=9223372036854775807&limit=10", nil, &list)
	if status != http.StatusBadRequest || list.Message != "Invalid page" {
		t.Errorf("huge page: got %d %q", status, list.Message)
	}

	// A page past the end is empty, not a repeat of page 1.
	list.Data = listResponse{}
	if status := e.call(t, "GET", "/qr/all?page=50&limit=10", nil, &list); status != http.StatusOK {
		t.Fatalf("page 50: expected 200, got %d", status)
	}
	if len(list.Data.QRCodes) != 0 || list.Data.Pagination.Page != 50 || list.Data.Pagination.Total != 1 {
		t.Errorf("page 50 = %+v", list.Data)
	}
}
