package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/passdesk/internal/model"
)

// Redemption errors. RedeemPass returns the current pass alongside
// ErrPassNotActive so callers can report who scanned it and when.
var (
	ErrPassNotFound  = errors.New("pass not found")
	ErrPassNotActive = errors.New("pass not active")
)

// codeBytes is the entropy of a pass code (160 bits).
const codeBytes = 20

// NewPass holds the fields supplied at issuance.
type NewPass struct {
	PassType  model.PassType
	UserID    *string
	FirstName string
	LastName  string
	CreatedBy string
}

const passSelect = `SELECT p.id, p.code, p.pass_type, p.user_id, p.first_name, p.last_name,
        p.status, p.scanned_at, p.scanned_by, p.image_url, p.created_at,
        u.id, u.email, u.first_name, u.last_name, u.phone_number,
        s.id, s.email, s.first_name, s.last_name
 FROM passes p
 LEFT JOIN users u ON u.id = p.user_id
 LEFT JOIN users s ON s.id = p.scanned_by`

// CreatePass issues a new active pass with a fresh random code.
func CreatePass(ctx context.Context, db *sql.DB, np NewPass) (*model.Pass, error) {
	if !np.PassType.Valid() {
		return nil, fmt.Errorf("invalid pass type %q", np.PassType)
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generating pass code: %w", err)
	}

	var createdBy *string
	if np.CreatedBy != "" {
		createdBy = &np.CreatedBy
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO passes (id, code, pass_type, user_id, first_name, last_name, status, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, code, string(np.PassType), np.UserID,
		strings.TrimSpace(np.FirstName), strings.TrimSpace(np.LastName),
		string(model.StatusActive), createdBy, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pass: %w", err)
	}

	return GetPass(ctx, db, id)
}

// GetPass returns a pass by ID.
func GetPass(ctx context.Context, db *sql.DB, id string) (*model.Pass, error) {
	p, err := scanPass(db.QueryRowContext(ctx, passSelect+` WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pass: %w", err)
	}
	return p, nil
}

// GetPassByCode returns a pass by its code.
func GetPassByCode(ctx context.Context, db *sql.DB, code string) (*model.Pass, error) {
	p, err := scanPass(db.QueryRowContext(ctx, passSelect+` WHERE p.code = ?`, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pass by code: %w", err)
	}
	return p, nil
}

// ListPasses returns one page of passes, newest first, optionally filtered
// by status, together with the total number of matching passes.
func ListPasses(ctx context.Context, db *sql.DB, status model.Status, limit, offset int) ([]model.Pass, int, error) {
	where := ""
	var args []any
	if status != "" {
		where = ` WHERE p.status = ?`
		args = append(args, string(status))
	}

	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passes p`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting passes: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		passSelect+where+` ORDER BY p.created_at DESC, p.id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing passes: %w", err)
	}
	defer rows.Close()

	var passes []model.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning pass: %w", err)
		}
		passes = append(passes, *p)
	}
	return passes, total, rows.Err()
}

// PassStats counts passes by status.
func PassStats(ctx context.Context, db *sql.DB) (model.Stats, error) {
	var st model.Stats
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM passes GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("counting passes by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("scanning pass stats: %w", err)
		}
		st.Total += n
		switch model.Status(status) {
		case model.StatusActive:
			st.Active = n
		case model.StatusUsed:
			st.Used = n
		case model.StatusExpired:
			st.Expired = n
		}
	}
	return st, rows.Err()
}

// SetPassImage records the public image URL of a pass. Reports false when
// no pass has the given code.
func SetPassImage(ctx context.Context, db *sql.DB, code, url string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE passes SET image_url = ? WHERE code = ?`, url, code,
	)
	if err != nil {
		return false, fmt.Errorf("setting pass image: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setting pass image: %w", err)
	}
	return n == 1, nil
}

// RedeemPass transitions an active pass to used in a single conditional
// update. Only one caller can ever win for a given code; every other caller
// gets ErrPassNotActive with the pass as it was frozen by the winner.
func RedeemPass(ctx context.Context, db *sql.DB, code, scannerID string, now time.Time) (*model.Pass, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE passes SET status = ?, scanned_at = ?, scanned_by = ?
		 WHERE code = ? AND status = ?`,
		string(model.StatusUsed), now.UTC(), scannerID, code, string(model.StatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("redeeming pass: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("redeeming pass: %w", err)
	}

	p, err := GetPassByCode(ctx, db, code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPassNotFound
	}
	if n == 0 {
		return p, ErrPassNotActive
	}
	return p, nil
}

// ExpireDayPasses marks active day passes issued before cutoff as expired
// and returns how many changed.
func ExpireDayPasses(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE passes SET status = ? WHERE status = ? AND pass_type = ? AND created_at < ?`,
		string(model.StatusExpired), string(model.StatusActive), string(model.PassTypeDay), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring day passes: %w", err)
	}
	return result.RowsAffected()
}

func scanPass(row rowScanner) (*model.Pass, error) {
	p := &model.Pass{}
	var (
		passType, status           string
		userID, scannedBy          sql.NullString
		uID, uEmail, uFirst, uLast sql.NullString
		uPhone                     sql.NullString
		sID, sEmail, sFirst, sLast sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Code, &passType, &userID, &p.FirstName, &p.LastName,
		&status, &p.ScannedAt, &scannedBy, &p.ImageURL, &p.CreatedAt,
		&uID, &uEmail, &uFirst, &uLast, &uPhone,
		&sID, &sEmail, &sFirst, &sLast); err != nil {
		return nil, err
	}
	p.PassType = model.PassType(passType)
	p.Status = model.Status(status)
	if userID.Valid {
		p.UserID = &userID.String
	}
	if scannedBy.Valid {
		p.ScannedBy = &scannedBy.String
	}
	if uID.Valid {
		p.User = &model.Person{ID: uID.String, Email: uEmail.String, FirstName: uFirst.String, LastName: uLast.String, PhoneNumber: uPhone.String}
	}
	if sID.Valid {
		p.Scanner = &model.Person{ID: sID.String, Email: sEmail.String, FirstName: sFirst.String, LastName: sLast.String}
	}
	return p, nil
}

// generateCode returns an unguessable pass code.
func generateCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
