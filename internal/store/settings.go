package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// Setting keys.
const (
	settingJWTSecret = "jwt_secret"
	settingBootstrap = "admin_bootstrapped"
)

// GetJWTSecret retrieves the token signing secret, generating and storing
// one on first use.
func GetJWTSecret(ctx context.Context, db *sql.DB) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return ensureSetting(ctx, db, settingJWTSecret, hex.EncodeToString(buf))
}

// MarkBootstrapped records that the first admin account was created and
// reports whether this call was the one that did it.
func MarkBootstrapped(ctx context.Context, db *sql.DB) (bool, error) {
	result, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, 'true')`, settingBootstrap,
	)
	if err != nil {
		return false, fmt.Errorf("storing %s: %w", settingBootstrap, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storing %s: %w", settingBootstrap, err)
	}
	return n == 1, nil
}

// ensureSetting stores candidate under key unless a value exists, then
// returns whichever value is stored. INSERT OR IGNORE followed by a read
// avoids a race between concurrent first starts.
func ensureSetting(ctx context.Context, db *sql.DB, key, candidate string) (string, error) {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
		key, candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", key, err)
	}

	var value string
	err = db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", key, err)
	}

	return value, nil
}
