package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erazemk/passdesk/internal/model"
	"github.com/erazemk/passdesk/internal/store"
)

// Listing defaults.
const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// PassesHandler handles QR pass endpoints (admin only).
type PassesHandler struct {
	DB *sql.DB
	// Now is the clock used for redemption timestamps.
	Now func() time.Time
}

type generateRequest struct {
	UserEmail string `json:"userEmail"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	PassType  string `json:"passType"`
}

type scanRequest struct {
	Code string `json:"code"`
}

type listResponse struct {
	QRCodes    []model.Pass     `json:"qrCodes"`
	Pagination model.Pagination `json:"pagination"`
}

func (h *PassesHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Generate handles POST /qr/generate.
func (h *PassesHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	passType := model.PassType(req.PassType)
	if !passType.Valid() {
		jsonError(w, http.StatusBadRequest, "Invalid pass type")
		return
	}

	claims := GetClaims(r.Context())
	np := store.NewPass{
		PassType:  passType,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		CreatedBy: claims.UserID,
	}

	if email := strings.TrimSpace(req.UserEmail); email != "" {
		user, err := store.GetUserByEmail(r.Context(), h.DB, email)
		if err != nil {
			slog.Error("failed to look up pass holder", "error", err)
			jsonError(w, http.StatusInternalServerError, "Failed to generate QR code")
			return
		}
		if user == nil {
			jsonError(w, http.StatusNotFound, "User not found")
			return
		}
		np.UserID = &user.ID
	}

	pass, err := store.CreatePass(r.Context(), h.DB, np)
	if err != nil {
		slog.Error("failed to create pass", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	slog.Info("pass issued", "user", claims.Email, "pass", pass.ID, "type", pass.PassType, "bound", pass.Bound())
	jsonResponse(w, http.StatusCreated, map[string]any{
		"message": "QR code generated successfully",
		"data":    pass,
	})
}

// Scan handles POST /qr/scan. Business failures carry the pass in data so
// the caller can show who redeemed it and when.
func (h *PassesHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		jsonError(w, http.StatusBadRequest, "QR code is required")
		return
	}

	claims := GetClaims(r.Context())
	pass, err := store.RedeemPass(r.Context(), h.DB, code, claims.UserID, h.now())
	switch {
	case err == nil:
		slog.Info("pass redeemed", "user", claims.Email, "pass", pass.ID, "type", pass.PassType)
		jsonOutcome(w, http.StatusOK, "QR code scanned successfully", admitDetails(pass), pass)

	case errors.Is(err, store.ErrPassNotFound):
		slog.Warn("pass scan rejected", "user", claims.Email, "reason", "unknown code")
		jsonOutcome(w, http.StatusNotFound, "Invalid QR code", "This QR code does not exist in the system", nil)

	case errors.Is(err, store.ErrPassNotActive):
		slog.Warn("pass scan rejected", "user", claims.Email, "pass", pass.ID, "status", pass.Status)
		if pass.Status == model.StatusExpired {
			jsonOutcome(w, http.StatusBadRequest, "QR code has expired", "This pass is no longer valid", pass)
			return
		}
		jsonOutcome(w, http.StatusBadRequest, "QR code already used", usedDetails(pass), pass)

	default:
		slog.Error("failed to redeem pass", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to scan QR code")
	}
}

// List handles GET /qr/all.
func (h *PassesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status model.Status
	if s := q.Get("status"); s != "" && s != "all" {
		status = model.Status(s)
		if !status.Valid() {
			jsonError(w, http.StatusBadRequest, "Invalid status")
			return
		}
	}

	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	// The offset must fit in an int.
	if page-1 > math.MaxInt/limit {
		jsonError(w, http.StatusBadRequest, "Invalid page")
		return
	}

	passes, total, err := store.ListPasses(r.Context(), h.DB, status, limit, (page-1)*limit)
	if err != nil {
		slog.Error("failed to list passes", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to fetch QR codes")
		return
	}
	if passes == nil {
		passes = []model.Pass{}
	}

	jsonData(w, http.StatusOK, listResponse{
		QRCodes: passes,
		Pagination: model.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	})
}

// Stats handles GET /qr/stats/overview.
func (h *PassesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := store.PassStats(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to compute pass stats", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}
	jsonData(w, http.StatusOK, st)
}

// queryInt parses a positive integer, falling back to def.
func queryInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func admitDetails(p *model.Pass) string {
	if name := p.HolderName(); name != "" {
		return fmt.Sprintf("%s for %s", p.PassType.Label(), name)
	}
	return p.PassType.Label()
}

func usedDetails(p *model.Pass) string {
	if p.ScannedAt == nil {
		return "This QR code has already been used"
	}
	details := "Scanned at " + p.ScannedAt.UTC().Format(time.RFC3339)
	if by := p.ScannerName(); by != "" {
		details += " by " + by
	}
	return details
}
