package render

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"github.com/banshee-data/tablecast/internal/playfield"
)

// WritePDF writes pf as a single-page vector PDF with one point per
// playfield unit. Text uses Helvetica, which lacks glyphs outside Latin-1.
func WritePDF(w io.Writer, pf *playfield.Playfield) error {
	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(pf.Width()), Ht: float64(pf.Height())},
	})
	p.SetMargins(0, 0, 0)
	p.SetAutoPageBreak(false, 0)
	p.AddPage()
	tr := p.UnicodeTranslatorFromDescriptor("")

	p.SetFillColor(0, 0, 0)
	p.Rect(0, 0, float64(pf.Width()), float64(pf.Height()), "F")
	p.SetLineWidth(strokeWidth)

	for _, id := range pf.IDs() {
		f, _ := pf.Get(id)
		if f == nil {
			continue
		}
		c := f.FormColor()
		r, g, b := int(c.R), int(c.G), int(c.B)

		switch f := f.(type) {
		case playfield.Circle:
			if f.Filled {
				p.SetFillColor(r, g, b)
				p.Circle(f.Center.X, f.Center.Y, f.Radius, "F")
			} else {
				p.SetDrawColor(r, g, b)
				p.Circle(f.Center.X, f.Center.Y, f.Radius, "D")
			}
		case playfield.Polygon:
			pts := make([]gofpdf.PointType, len(f.Points))
			for i, q := range f.Points {
				pts[i] = gofpdf.PointType{X: q.X, Y: q.Y}
			}
			p.SetDrawColor(r, g, b)
			p.Polygon(pts, "D")
		case playfield.Text:
			p.SetTextColor(r, g, b)
			p.SetFont("Helvetica", "", float64(f.Size))
			p.Text(f.Position.X, f.Position.Y, tr(f.Text))
		}
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("render: write pdf: %w", err)
	}
	return nil
}
