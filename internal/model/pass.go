package model

import (
	"strings"
	"time"
)

// PassType classifies what a pass grants. Fixed at issuance.
type PassType string

// Pass types.
const (
	PassTypeDay  PassType = "day_pass"
	PassTypeFull PassType = "full_pass"
)

// Valid reports whether t is one of the known pass types.
func (t PassType) Valid() bool {
	return t == PassTypeDay || t == PassTypeFull
}

// Label returns the human-readable name used in listings and exports.
func (t PassType) Label() string {
	switch t {
	case PassTypeDay:
		return "Day Pass"
	case PassTypeFull:
		return "Full Pass"
	default:
		return string(t)
	}
}

// ParsePassType accepts the wire value or a short alias ("day", "full").
func ParsePassType(s string) (PassType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day_pass", "day":
		return PassTypeDay, true
	case "full_pass", "full":
		return PassTypeFull, true
	}
	return "", false
}

// Status is the redemption state of a pass.
type Status string

// Pass statuses. Active is the only non-terminal state.
const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusUsed, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
// Unknown values are treated as terminal.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Person is the account projection joined onto a pass (holder or scanner).
type Person struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// FullName joins first and last name.
func (p *Person) FullName() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Pass is a QR pass record. The code is a bearer capability and is
// immutable once issued; ScannedAt and ScannedBy are set together with the
// active to used transition and never change afterwards.
type Pass struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	PassType  PassType   `json:"passType"`
	UserID    *string    `json:"userId"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	User      *Person    `json:"user"`
	Status    Status     `json:"status"`
	ScannedAt *time.Time `json:"scannedAt"`
	ScannedBy *string    `json:"scannedBy"`
	Scanner   *Person    `json:"scanner"`
	CreatedAt time.Time  `json:"createdAt"`
	ImageURL  string     `json:"s3Url,omitempty"`
}

// Bound reports whether the pass references an account.
func (p *Pass) Bound() bool {
	return p.UserID != nil || p.User != nil
}

// HolderName returns the display name of the holder. The bound account wins
// over the free-text names captured at issuance.
func (p *Pass) HolderName() string {
	if name := p.User.FullName(); name != "" {
		return name
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// HolderEmail returns the bound account's email, if any.
func (p *Pass) HolderEmail() string {
	if p.User == nil {
		return ""
	}
	return p.User.Email
}

// ScannerName returns the display name of whoever redeemed the pass.
func (p *Pass) ScannerName() string {
	if name := p.Scanner.FullName(); name != "" {
		return name
	}
	if p.Scanner != nil && p.Scanner.Email != "" {
		return p.Scanner.Email
	}
	if p.ScannedBy != nil {
		return *p.ScannedBy
	}
	return ""
}

// Stats is the status breakdown across all passes.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Used    int `json:"used"`
	Expired int `json:"expired"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
