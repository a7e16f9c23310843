package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erazemk/passdesk/internal/imaging"
	"github.com/erazemk/passdesk/internal/objstore"
	"github.com/erazemk/passdesk/internal/store"
)

// maxUploadSize bounds a pass image upload.
const maxUploadSize = 5 << 20

// UploadsHandler stores rendered pass images.
type UploadsHandler struct {
	DB     *sql.DB
	Bucket *objstore.Bucket
}

// Upload handles POST /qr/upload-to-s3. Expects multipart fields qrCode and
// image; responds with the public URL of the stored PNG.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		jsonError(w, http.StatusBadRequest, "File too large or invalid multipart form")
		return
	}

	code := strings.TrimSpace(r.FormValue("qrCode"))
	if code == "" {
		jsonError(w, http.StatusBadRequest, "QR code is required")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "Image file is required")
		return
	}
	defer file.Close()

	pass, err := store.GetPassByCode(r.Context(), h.DB, code)
	if err != nil {
		slog.Error("failed to look up pass", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to upload image")
		return
	}
	if pass == nil {
		jsonError(w, http.StatusNotFound, "QR code not found")
		return
	}

	img, err := imaging.Process(file)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) {
			jsonError(w, http.StatusBadRequest, "Image must be PNG or JPEG")
			return
		}
		jsonError(w, http.StatusBadRequest, "Invalid image")
		return
	}

	url, err := h.Bucket.Put(r.Context(), "qr/"+pass.ID+".png", img.Data)
	if err != nil {
		slog.Error("failed to store image", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to upload image")
		return
	}

	if _, err := store.SetPassImage(r.Context(), h.DB, code, url); err != nil {
		slog.Error("failed to record image url", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to upload image")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("image stored", "user", claims.Email, "pass", pass.ID, "bytes", len(img.Data))
	jsonResponse(w, http.StatusOK, map[string]string{
		"message": "QR code image uploaded successfully",
		"s3Url":   url,
	})
}
