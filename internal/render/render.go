// Package render rasterizes a Playfield for a display, or exports it as a
// vector PDF.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/playfield"
)

// At 72 dpi one vg point is one pixel.
const dpi = 72

// Outline width for unfilled circles and polygons, in pixels.
const strokeWidth = 2

var (
	// Background fills the playfield area.
	Background = color.Black
	// MarginColor fills the border added by Options.Margin.
	MarginColor = color.Gray{Y: 127}
)

// Orientation is applied to the finished raster, for projectors mounted
// sideways or upside down.
type Orientation int

const (
	OrientNone Orientation = iota
	Orient90
	Orient180
	Orient270
	OrientFlipH
	OrientFlipV
)

// ParseOrientation accepts "", "0", "90", "180", "270", "flip-h" and
// "flip-v".
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "none":
		return OrientNone, nil
	case "90":
		return Orient90, nil
	case "180":
		return Orient180, nil
	case "270":
		return Orient270, nil
	case "flip-h":
		return OrientFlipH, nil
	case "flip-v":
		return OrientFlipV, nil
	}
	return OrientNone, fmt.Errorf("render: unknown orientation %q", s)
}

// Options controls raster output.
type Options struct {
	// Margin adds a border of this many pixels on every side.
	Margin int
	// Orientation rotates or mirrors the result.
	Orientation Orientation
}

var (
	faceOnce sync.Once
	faceTTF  *opentype.Font
	faceErr  error
)

func regularFont() (*opentype.Font, error) {
	faceOnce.Do(func() {
		faceTTF, faceErr = opentype.Parse(goregular.TTF)
	})
	return faceTTF, faceErr
}

// Image draws pf onto a new raster of pf's size plus the margin. Forms are
// drawn in ascending id order so later ids paint over earlier ones.
func Image(pf *playfield.Playfield, opts Options) (image.Image, error) {
	ttf, err := regularFont()
	if err != nil {
		return nil, fmt.Errorf("render: load font: %w", err)
	}
	m := opts.Margin
	if m < 0 {
		m = 0
	}
	w, h := pf.Width()+2*m, pf.Height()+2*m

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(w), vg.Length(h)),
		vgimg.UseDPI(dpi),
		vgimg.UseBackgroundColor(MarginColor),
	)
	d := &drawer{c: c, height: float64(h), margin: float64(m), ttf: ttf}

	var field vg.Path
	field.Move(d.pt(0, 0))
	field.Line(d.pt(float64(pf.Width()), 0))
	field.Line(d.pt(float64(pf.Width()), float64(pf.Height())))
	field.Line(d.pt(0, float64(pf.Height())))
	field.Close()
	c.SetColor(Background)
	c.Fill(field)

	for _, id := range pf.IDs() {
		f, _ := pf.Get(id)
		if f == nil {
			continue
		}
		if err := d.form(f); err != nil {
			return nil, fmt.Errorf("render: form %d: %w", id, err)
		}
	}
	return orient(c.Image(), opts.Orientation), nil
}

func orient(img image.Image, o Orientation) image.Image {
	switch o {
	case Orient90:
		return imaging.Rotate90(img)
	case Orient180:
		return imaging.Rotate180(img)
	case Orient270:
		return imaging.Rotate270(img)
	case OrientFlipH:
		return imaging.FlipH(img)
	case OrientFlipV:
		return imaging.FlipV(img)
	}
	return img
}

// WritePNG encodes the rendered playfield as PNG.
func WritePNG(w io.Writer, pf *playfield.Playfield, opts Options) error {
	img, err := Image(pf, opts)
	if err != nil {
		return err
	}
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("render: encode png: %w", err)
	}
	return nil
}

// SavePNG renders pf and replaces path atomically, so a viewer polling the
// file never sees a partial frame.
func SavePNG(fsys fsutil.FileSystem, path string, pf *playfield.Playfield, opts Options) error {
	var buf bytes.Buffer
	if err := WritePNG(&buf, pf, opts); err != nil {
		return err
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("render: write %s: %w", path, err)
	}
	return nil
}

type drawer struct {
	c      *vgimg.Canvas
	height float64
	margin float64
	ttf    *opentype.Font
}

// pt converts playfield coordinates, y down, to canvas coordinates, y up.
func (d *drawer) pt(x, y float64) vg.Point {
	return vg.Point{X: vg.Length(x + d.margin), Y: vg.Length(d.height - (y + d.margin))}
}

func (d *drawer) form(f playfield.Form) error {
	rgb := f.FormColor()
	d.c.SetColor(rgb.RGBA())
	d.c.SetLineWidth(strokeWidth)

	switch f := f.(type) {
	case playfield.Circle:
		if f.Radius <= 0 {
			return nil
		}
		center := d.pt(f.Center.X, f.Center.Y)
		var p vg.Path
		p.Move(vg.Point{X: center.X + vg.Length(f.Radius), Y: center.Y})
		p.Arc(center, vg.Length(f.Radius), 0, 2*math.Pi)
		p.Close()
		if f.Filled {
			d.c.Fill(p)
		} else {
			d.c.Stroke(p)
		}
	case playfield.Polygon:
		if len(f.Points) == 0 {
			return nil
		}
		var p vg.Path
		p.Move(d.pt(f.Points[0].X, f.Points[0].Y))
		for _, q := range f.Points[1:] {
			p.Line(d.pt(q.X, q.Y))
		}
		p.Close()
		d.c.Stroke(p)
	case playfield.Text:
		face := font.Face{
			Font: font.Font{Typeface: "Go", Size: vg.Length(f.Size)},
			Face: d.ttf,
		}
		d.c.FillString(face, d.pt(f.Position.X, f.Position.Y), f.Text)
	default:
		return fmt.Errorf("unsupported form %T", f)
	}
	return nil
}
