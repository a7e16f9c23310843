// Package issuer creates passes and, optionally, their stored QR images.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/erazemk/passdesk/internal/client"
	"github.com/erazemk/passdesk/internal/model"
)

// ErrInvalidPassType is returned before any request for an unknown type.
var ErrInvalidPassType = errors.New("invalid pass type")

// Request describes a pass to issue. Identity fields are optional.
type Request struct {
	PassType  model.PassType
	UserEmail string
	FirstName string
	LastName  string
}

// Generator creates a pass on the server.
type Generator interface {
	GeneratePass(ctx context.Context, req client.GenerateRequest) (*model.Pass, error)
}

// ImageStore renders and stores the image for a pass code.
type ImageStore interface {
	EncodeAndStore(ctx context.Context, code string) (string, error)
}

// Issuer issues passes.
type Issuer struct {
	gen    Generator
	images ImageStore
}

// New returns an issuer. images may be nil, in which case IssueAndStore
// behaves like Issue.
func New(gen Generator, images ImageStore) *Issuer {
	return &Issuer{gen: gen, images: images}
}

// Issue validates req and creates exactly one pass. It is never retried.
func (i *Issuer) Issue(ctx context.Context, req Request) (*model.Pass, error) {
	if !req.PassType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPassType, req.PassType)
	}

	p, err := i.gen.GeneratePass(ctx, client.GenerateRequest{
		PassType:  req.PassType,
		UserEmail: strings.TrimSpace(req.UserEmail),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		return nil, fmt.Errorf("generating pass: %w", err)
	}

	slog.Debug("pass issued", "pass", p.ID, "type", p.PassType)
	return p, nil
}

// Issued is the result of IssueAndStore. Pass is always set; EncodeErr
// reports a failed image step, in which case the pass is still valid and
// active, only without an image URL.
type Issued struct {
	Pass      *model.Pass
	EncodeErr error
}

// IssueAndStore issues a pass and then stores its QR image.
func (i *Issuer) IssueAndStore(ctx context.Context, req Request) (*Issued, error) {
	p, err := i.Issue(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &Issued{Pass: p}
	if i.images == nil {
		return out, nil
	}

	url, err := i.images.EncodeAndStore(ctx, p.Code)
	if err != nil {
		slog.Warn("pass image not stored", "pass", p.ID, "error", err)
		out.EncodeErr = err
		return out, nil
	}
	p.ImageURL = url
	return out, nil
}
