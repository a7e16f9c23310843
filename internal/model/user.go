package model

import (
	"fmt"
	"strings"
	"time"
)

// User represents an account. Admins issue and scan passes; any account can
// be bound to a pass as its holder.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Roles.
const (
	RoleSuperAdmin = "superadmin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleSuperAdmin: 3,
		RoleAdmin:      2,
		RoleUser:       1,
	}
	return levels[role] >= levels[minimum] && levels[role] > 0 && levels[minimum] > 0
}

// SetRole sets the role and the derived admin flags.
func (u *User) SetRole(role string) {
	u.Role = role
	u.IsSuperAdmin = role == RoleSuperAdmin
	u.IsAdmin = RoleAtLeast(role, RoleAdmin)
}

// CanAdminister reports whether the account may use the admin tool.
func (u *User) CanAdminister() bool {
	return u != nil && (u.IsAdmin || u.IsSuperAdmin)
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// ValidatePassword checks password strength requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}
