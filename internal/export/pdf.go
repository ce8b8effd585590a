package export

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/manpreetbhatti/scribble/internal/history"
)

const (
	pageWidth  = 297.0 // A4 landscape, mm
	pageHeight = 210.0
	margin     = 10.0
	minLine    = 0.1
)

// WritePDF renders strokes onto a single A4 landscape page. The drawing's
// bounding box is scaled to fit inside the margins.
func WritePDF(w io.Writer, title string, strokes []history.Stroke) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.SetTitle(title, true)
	p.SetCreator("scribble", true)
	p.AddPage()
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")

	minX, minY, scale := fit(strokes)

	for _, st := range strokes {
		r, g, b := parseColor(st.Color)
		p.SetDrawColor(r, g, b)
		p.SetLineWidth(math.Max(st.Width*scale, minLine))

		for i := 1; i < len(st.Points); i++ {
			p.Line(
				margin+(st.Points[i-1].X-minX)*scale, margin+(st.Points[i-1].Y-minY)*scale,
				margin+(st.Points[i].X-minX)*scale, margin+(st.Points[i].Y-minY)*scale,
			)
		}
	}

	return p.Output(w)
}

// Returns the drawing origin and the factor mapping canvas units to mm.
func fit(strokes []history.Stroke) (float64, float64, float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, st := range strokes {
		for _, pt := range st.Points {
			minX = math.Min(minX, pt.X)
			minY = math.Min(minY, pt.Y)
			maxX = math.Max(maxX, pt.X)
			maxY = math.Max(maxY, pt.Y)
		}
	}
	if math.IsInf(minX, 1) {
		return 0, 0, 1
	}

	width, height := maxX-minX, maxY-minY
	scale := math.Inf(1)
	if width > 0 {
		scale = (pageWidth - 2*margin) / width
	}
	if height > 0 {
		scale = math.Min(scale, (pageHeight-2*margin)/height)
	}
	if math.IsInf(scale, 1) {
		scale = 1
	}
	return minX, minY, scale
}

// Parses #rgb and #rrggbb. Anything else draws black.
func parseColor(color string) (int, int, int) {
	hex := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
