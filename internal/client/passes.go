package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/erazemk/passdesk/internal/model"
)

// GenerateRequest is the body of POST /qr/generate. Empty identity fields
// are left out.
type GenerateRequest struct {
	UserEmail string         `json:"userEmail,omitempty"`
	FirstName string         `json:"firstName,omitempty"`
	LastName  string         `json:"lastName,omitempty"`
	PassType  model.PassType `json:"passType"`
}

// GeneratePass creates a pass. Not idempotent; callers must not retry.
func (c *Client) GeneratePass(ctx context.Context, req GenerateRequest) (*model.Pass, error) {
	var p model.Pass
	if _, err := c.doJSON(ctx, "POST", "/qr/generate", req, &p); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, fmt.Errorf("generate response missing code")
	}
	return &p, nil
}

// UploadPassImage uploads a rendered PNG for the pass with the given code
// and returns the public image URL.
func (c *Client) UploadPassImage(ctx context.Context, code string, png []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("qrCode", code); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="qr-%s.png"`, code))
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(png); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	var out struct {
		S3URL string `json:"s3Url"`
	}
	if _, err := c.do(ctx, "POST", "/qr/upload-to-s3", &body, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if out.S3URL == "" {
		return "", fmt.Errorf("upload response missing s3Url")
	}
	return out.S3URL, nil
}

// ScanResponse is a successful scan.
type ScanResponse struct {
	Message string
	Details string
	Pass    *model.Pass
}

// ScanPass submits a code for redemption. Non-2xx responses come back as
// *APIError with the pass, if any, in Data.
func (c *Client) ScanPass(ctx context.Context, code string) (*ScanResponse, error) {
	var p model.Pass
	env, err := c.doJSON(ctx, "POST", "/qr/scan", map[string]string{"code": code}, &p)
	if err != nil {
		return nil, err
	}
	resp := &ScanResponse{Message: env.Message, Details: env.Details}
	if p.Code != "" {
		resp.Pass = &p
	}
	return resp, nil
}

// ListQuery selects one page of passes.
type ListQuery struct {
	Status model.Status
	Page   int
	Limit  int
}

// PassPage is one page of a listing.
type PassPage struct {
	Passes     []model.Pass     `json:"qrCodes"`
	Pagination model.Pagination `json:"pagination"`
}

// ListPasses fetches one page of passes, newest first.
func (c *Client) ListPasses(ctx context.Context, q ListQuery) (*PassPage, error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/qr/all"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page PassPage
	if _, err := c.doJSON(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllPasses walks every page of the listing.
func (c *Client) ListAllPasses(ctx context.Context, status model.Status) ([]model.Pass, error) {
	var all []model.Pass
	for page := 1; ; page++ {
		p, err := c.ListPasses(ctx, ListQuery{Status: status, Page: page, Limit: 100})
		if err != nil {
			return nil, err
		}
		all = append(all, p.Passes...)
		if page >= p.Pagination.TotalPages || len(p.Passes) == 0 {
			return all, nil
		}
	}
}

// PassStats returns the status breakdown.
func (c *Client) PassStats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	_, err := c.doJSON(ctx, "GET", "/qr/stats/overview", nil, &st)
	return st, err
}

// DecodePass decodes the pass carried in an error response, if any.
func (e *APIError) DecodePass() (*model.Pass, bool) {
	if !e.HasData() {
		return nil, false
	}
	var p model.Pass
	if err := json.Unmarshal(e.Data, &p); err != nil || p.Code == "" {
		return nil, false
	}
	return &p, true
}
