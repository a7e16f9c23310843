// Package redeem validates scanned pass codes against the server.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/erazemk/passdesk/internal/client"
	"github.com/erazemk/passdesk/internal/model"
)

// ErrEmptyCode is returned for a blank code; no request is made.
var ErrEmptyCode = errors.New("empty code")

// EmptyCodeText is the notification shown for ErrEmptyCode.
const EmptyCodeText = "Please enter a QR code"

// Kind classifies a redemption attempt.
type Kind int

// Outcome kinds. Only Redeemed is a success.
const (
	Redeemed Kind = iota + 1
	AlreadyUsed
	Expired
	NotFound
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Redeemed:
		return "redeemed"
	case AlreadyUsed:
		return "already used"
	case Expired:
		return "expired"
	case NotFound:
		return "not found"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the result of a redemption the server answered. Business
// failures are outcomes, not errors.
type Outcome struct {
	Kind    Kind
	Message string
	Details string
	// Pass is the redeemed pass, or for AlreadyUsed and Expired the pass as
	// the server holds it (with the original ScannedAt and ScannedBy).
	Pass *model.Pass
}

// Success reports whether the pass was admitted by this attempt.
func (o *Outcome) Success() bool {
	return o.Kind == Redeemed
}

// Holder returns the display identity of the pass holder, account first.
func (o *Outcome) Holder() string {
	if o.Pass == nil {
		return ""
	}
	if name := o.Pass.HolderName(); name != "" {
		return name
	}
	return o.Pass.HolderEmail()
}

// Scanner submits a code to the server.
type Scanner interface {
	ScanPass(ctx context.Context, code string) (*client.ScanResponse, error)
}

// Redeemer turns scan responses into outcomes.
type Redeemer struct {
	api Scanner
}

// New returns a redeemer using api.
func New(api Scanner) *Redeemer {
	return &Redeemer{api: api}
}

// Redeem submits code once. Errors are reserved for blank input,
// authentication failures, server errors and transport failures; every
// other answer is an Outcome.
func (r *Redeemer) Redeem(ctx context.Context, code string) (*Outcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	resp, err := r.api.ScanPass(ctx, code)
	if err == nil {
		return &Outcome{Kind: Redeemed, Message: resp.Message, Details: resp.Details, Pass: resp.Pass}, nil
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return nil, fmt.Errorf("scanning pass: %w", err)
	}
	return classify(apiErr)
}

func classify(e *client.APIError) (*Outcome, error) {
	switch {
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return nil, e
	case e.Status >= 500, e.Status < 400:
		return nil, e
	}

	out := &Outcome{Kind: Rejected, Message: e.Message, Details: e.Details}
	if e.Status == http.StatusNotFound {
		out.Kind = NotFound
		return out, nil
	}

	if p, ok := e.DecodePass(); ok {
		out.Pass = p
		switch p.Status {
		case model.StatusUsed:
			out.Kind = AlreadyUsed
		case model.StatusExpired:
			out.Kind = Expired
		}
	}
	return out, nil
}
