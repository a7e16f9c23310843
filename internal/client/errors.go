package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the server rejected the token. The session has
	// already been cleared by the time a caller sees it.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAdminRequired means the account is not an admin.
	ErrAdminRequired = errors.New("admin access required")
)

// Fallback notification texts used when the server gives no message.
const (
	FallbackGenerate   = "Failed to generate QR code"
	FallbackScan       = "Scan Failed - Unable to validate QR code"
	FallbackConnection = "Please check your connection and try again."
	AdminRequiredText  = "Admin access required"
	SessionExpiredText = "Session expired, run passdesk login"
)

// APIError is a non-2xx response. Data holds the raw data member, if any,
// so callers can classify business failures.
type APIError struct {
	Status  int
	Message string
	Details string
	Data    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps authentication statuses onto the sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrAdminRequired
	}
	return nil
}

// HasData reports whether the response carried a non-null data member.
func (e *APIError) HasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

// Message returns the server-provided message for err, or fallback.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, ErrAdminRequired):
		return AdminRequiredText
	case errors.Is(err, ErrUnauthorized):
		return SessionExpiredText
	}
	return fallback
}
