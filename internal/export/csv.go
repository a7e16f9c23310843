// Package export writes pass listings as CSV.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erazemk/passdesk/internal/model"
)

// Header is the fixed CSV header row.
var Header = []string{"Code", "Pass Type", "Status", "User Email", "User Name", "Created At", "Scanned At", "Scanned By"}

const (
	missing    = "N/A"
	timeLayout = "2006-01-02 15:04:05"
)

// Filter keeps passes with the given status. An empty status or "all"
// keeps everything.
func Filter(passes []model.Pass, status string) []model.Pass {
	if status == "" || status == "all" {
		return passes
	}
	out := make([]model.Pass, 0, len(passes))
	for _, p := range passes {
		if string(p.Status) == status {
			out = append(out, p)
		}
	}
	return out
}

// FileName returns the export file name for day, e.g. qr-codes-2026-10-16.csv.
func FileName(day time.Time) string {
	return "qr-codes-" + day.Format("2006-01-02") + ".csv"
}

// WriteCSV writes the header and one row per pass. Every cell is quoted
// and times are rendered in loc.
func WriteCSV(w io.Writer, passes []model.Pass, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	bw := bufio.NewWriter(w)
	if err := writeRow(bw, Header); err != nil {
		return err
	}
	for i := range passes {
		if err := writeRow(bw, Row(&passes[i], loc)); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// Row renders the cells for one pass.
func Row(p *model.Pass, loc *time.Location) []string {
	return []string{
		orMissing(p.Code),
		p.PassType.Label(),
		orMissing(string(p.Status)),
		orMissing(p.HolderEmail()),
		orMissing(p.HolderName()),
		formatTime(&p.CreatedAt, loc),
		formatTime(p.ScannedAt, loc),
		orMissing(p.ScannerName()),
	}
}

func writeRow(w *bufio.Writer, cells []string) error {
	for i, c := range cells {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(c, `"`, `""`))
		w.WriteByte('"')
	}
	if _, err := w.WriteString("\n"); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missing
	}
	return s
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return missing
	}
	return t.In(loc).Format(timeLayout)
}
