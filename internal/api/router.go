package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/objstore"
)

// Prefix is the path every API route is mounted under.
const Prefix = "/api/v1"

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string, images *objstore.Bucket) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	usersHandler := &UsersHandler{DB: db}
	passesHandler := &PassesHandler{DB: db}
	uploadsHandler := &UploadsHandler{DB: db, Bucket: images}

	authMW := AuthMiddleware(jwtSecret, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	admin := func(h http.HandlerFunc) http.Handler {
		return authMW(requireAdmin(h))
	}

	// Public: login.
	mux.HandleFunc("POST "+Prefix+"/admin/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("POST "+Prefix+"/admin/logout", authMW(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET "+Prefix+"/auth/me", authMW(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PUT "+Prefix+"/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))

	// Accounts (admin only).
	mux.Handle("GET "+Prefix+"/admin/users", admin(usersHandler.List))
	mux.Handle("POST "+Prefix+"/admin/users", admin(usersHandler.Create))

	// Passes (admin only).
	mux.Handle("POST "+Prefix+"/qr/generate", admin(passesHandler.Generate))
	mux.Handle("POST "+Prefix+"/qr/upload-to-s3", admin(uploadsHandler.Upload))
	mux.Handle("POST "+Prefix+"/qr/scan", admin(passesHandler.Scan))
	mux.Handle("GET "+Prefix+"/qr/all", admin(passesHandler.List))
	mux.Handle("GET "+Prefix+"/qr/stats/overview", admin(passesHandler.Stats))

	return mux
}
