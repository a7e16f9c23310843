package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// QuietZone is the light margin around the symbol, in modules.
const QuietZone = 4

// ErrEmptyCode is returned when asked to render an empty code.
var ErrEmptyCode = errors.New("empty code")

// Symbol is a rendered QR matrix, quiet zone included.
type Symbol struct {
	Code    string
	modules [][]bool
}

// Render encodes code at error-correction level H.
func Render(code string) (*Symbol, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	q, err := qrcode.New(code, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("encoding QR symbol: %w", err)
	}
	return &Symbol{Code: code, modules: q.Bitmap()}, nil
}

// Size is the width of the symbol in modules.
func (s *Symbol) Size() int {
	return len(s.modules)
}

// Dark reports whether the module at (x, y) is dark. Out-of-range
// coordinates are light.
func (s *Symbol) Dark(x, y int) bool {
	if y < 0 || y >= len(s.modules) || x < 0 || x >= len(s.modules[y]) {
		return false
	}
	return s.modules[y][x]
}

// SVG renders the symbol as a square SVG document of px pixels. Each row of
// dark modules becomes horizontal runs in a single path.
func (s *Symbol) SVG(px int) []byte {
	n := s.Size()
	var path strings.Builder
	for y := 0; y < n; y++ {
		for x := 0; x < n; {
			if !s.Dark(x, y) {
				x++
				continue
			}
			start := x
			for x < n && s.Dark(x, y) {
				x++
			}
			fmt.Fprintf(&path, "M%d %dh%dv1h-%dz", start, y, x-start, x-start)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, px, px, n, n)
	fmt.Fprintf(&buf, `<rect width="%d" height="%d" fill="#ffffff"/>`, n, n)
	fmt.Fprintf(&buf, `<path fill="#000000" d="%s"/>`, path.String())
	buf.WriteString("</svg>\n")
	return buf.Bytes()
}
