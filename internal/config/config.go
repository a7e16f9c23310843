// Package config loads passdesk client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultDotenvFiles are read, if present, before the environment is parsed.
// Variables already set in the environment win.
var DefaultDotenvFiles = []string{".env.local", ".env"}

// Config holds client settings.
type Config struct {
	APIURL      string        `env:"PASSDESK_API_URL"      envDefault:"http://localhost:3000/api/v1"`
	SessionFile string        `env:"PASSDESK_SESSION_FILE"`
	HTTPTimeout time.Duration `env:"PASSDESK_HTTP_TIMEOUT"`
	QRSize      int           `env:"PASSDESK_QR_SIZE"      envDefault:"256"`
}

// QR raster bounds in pixels.
const (
	MinQRSize = 64
	MaxQRSize = 4096
)

// Load reads dotenv files (missing ones are skipped) and then parses the
// environment.
func Load(dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PASSDESK_API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("PASSDESK_HTTP_TIMEOUT must not be negative")
	}
	if c.QRSize < MinQRSize || c.QRSize > MaxQRSize {
		return fmt.Errorf("PASSDESK_QR_SIZE must be between %d and %d", MinQRSize, MaxQRSize)
	}
	return nil
}

// SessionPath returns where the session is persisted: SessionFile if set,
// otherwise passdesk/session.json under the user config directory.
func (c Config) SessionPath() (string, error) {
	if c.SessionFile != "" {
		return c.SessionFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(dir, "passdesk", "session.json"), nil
}
