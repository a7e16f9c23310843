// Package objstore is a filesystem-backed object bucket. Objects are written
// under a root directory and served read-only over HTTP at a public base URL.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys that are empty or escape the bucket.
var ErrInvalidKey = errors.New("invalid object key")

// Bucket stores objects under Dir and addresses them as BaseURL/key.
type Bucket struct {
	dir     string
	baseURL string
}

// New creates the bucket directory if needed.
func New(dir, baseURL string) (*Bucket, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating bucket directory: %w", err)
	}
	return &Bucket{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data under key, replacing any previous object, and returns its
// public URL. The write goes through a temporary file so readers never see a
// partial object.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(b.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing object: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("setting object mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("storing object: %w", err)
	}

	return b.URL(key), nil
}

// Get reads the object stored under key. Returns (nil, nil) if absent.
// Directories are not objects.
func (b *Bucket) Get(key string) ([]byte, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(b.dir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	if info.IsDir() {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return buf.Bytes(), nil
}

// URL returns the public address of key.
func (b *Bucket) URL(key string) string {
	return b.baseURL + "/" + strings.TrimLeft(key, "/")
}

// Handler serves objects read-only by key. Directories are never listed.
// Mount it with http.StripPrefix at the path part of the base URL.
func (b *Bucket) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		key := strings.TrimPrefix(r.URL.Path, "/")
		data, err := b.Get(key)
		if errors.Is(err, ErrInvalidKey) || (err == nil && data == nil) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			slog.Error("failed to read object", "key", key, "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeContent(w, r, path.Base(key), time.Time{}, bytes.NewReader(data))
	})
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned != key {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
