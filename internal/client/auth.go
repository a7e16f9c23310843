package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/erazemk/passdesk/internal/model"
)

type loginData struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login authenticates with email and password and stores the session.
// Accounts without admin rights are refused with ErrAdminRequired and
// nothing is kept.
func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	var data loginData
	body := map[string]string{"email": email, "password": password}
	if _, err := c.doJSON(ctx, "POST", "/admin/login", body, &data); err != nil {
		return nil, err
	}
	if data.Token == "" || data.User == nil {
		return nil, fmt.Errorf("login response missing token or user")
	}

	if !data.User.CanAdminister() {
		c.session.Clear()
		return nil, ErrAdminRequired
	}
	if err := c.session.Set(data.Token, data.User); err != nil {
		return nil, err
	}
	return data.User, nil
}

// Me returns the account behind the current token.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var data struct {
		User *model.User `json:"user"`
	}
	if _, err := c.doJSON(ctx, "GET", "/auth/me", nil, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, fmt.Errorf("me response missing user")
	}
	return data.User, nil
}

// InitSession restores the persisted session and confirms it with the
// server. Any failure, or an account that is no longer an admin, leaves the
// session cleared.
func (c *Client) InitSession(ctx context.Context) (*model.User, error) {
	if err := c.session.Load(); err != nil {
		return nil, err
	}
	if !c.session.Authenticated() {
		return nil, ErrUnauthorized
	}

	user, err := c.Me(ctx)
	if err != nil {
		c.session.Clear()
		return nil, err
	}
	if !user.CanAdminister() {
		c.session.Clear()
		return nil, ErrAdminRequired
	}
	if err := c.session.SetUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Logout revokes the token on the server when possible and always clears
// the local session.
func (c *Client) Logout(ctx context.Context) error {
	if c.session.Authenticated() {
		if _, err := c.doJSON(ctx, "POST", "/admin/logout", nil, nil); err != nil {
			slog.Debug("server logout failed", "error", err)
		}
	}
	return c.session.Clear()
}

// ChangePassword changes the logged-in account's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{"currentPassword": current, "newPassword": next}
	_, err := c.doJSON(ctx, "PUT", "/auth/password", body, nil)
	return err
}

// NewUser is the body of CreateUser.
type NewUser struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Password  string `json:"password,omitempty"`
	Role      string `json:"role,omitempty"`
}

// ListUsers returns every account.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var data struct {
		Users []model.User `json:"users"`
	}
	if _, err := c.doJSON(ctx, "GET", "/admin/users", nil, &data); err != nil {
		return nil, err
	}
	return data.Users, nil
}

// CreateUser creates an account that passes can be bound to.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (*model.User, error) {
	var data struct {
		User *model.User `json:"user"`
	}
	if _, err := c.doJSON(ctx, "POST", "/admin/users", u, &data); err != nil {
		return nil, err
	}
	return data.User, nil
}
