package playfield

import (
	"fmt"
	"image/color"

	"github.com/banshee-data/tablecast/internal/geom"
)

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R, G, B uint8
}

// White is the color a form gets when none is supplied.
var White = RGB{255, 255, 255}

// RGBA converts c to an opaque color.RGBA.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

func (c RGB) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.R, c.G, c.B)
}

// Kind names a Form variant.
type Kind string

const (
	KindCircle  Kind = "Circle"
	KindPolygon Kind = "Polygon"
	KindText    Kind = "Text"
)

// DefaultTextSize is the size a Text gets when none is supplied.
const DefaultTextSize = 36

// Form is a drawable primitive. The set of variants is closed: Circle,
// Polygon and Text are the only implementations.
type Form interface {
	Kind() Kind
	FormColor() RGB
	// MapPoints returns a copy of the form with every embedded point
	// passed through fn. Non-geometric fields are copied verbatim.
	MapPoints(fn func(geom.Point) (geom.Point, error)) (Form, error)
	sealed()
}

// Circle is a circle outline, or a disc when Filled is set.
type Circle struct {
	Color  RGB
	Center geom.Point
	Radius float64
	Filled bool
}

// Polygon is a closed outline through Points in order.
type Polygon struct {
	Color  RGB
	Points []geom.Point
}

// Text is a label anchored at Position.
type Text struct {
	Color    RGB
	Position geom.Point
	Text     string
	Size     int
}

// NewCircle returns a white, unfilled circle.
func NewCircle(center geom.Point, radius float64) Circle {
	return Circle{Color: White, Center: center, Radius: radius}
}

// NewPolygon returns a white polygon. The points slice is copied.
func NewPolygon(points ...geom.Point) Polygon {
	return Polygon{Color: White, Points: append([]geom.Point(nil), points...)}
}

// NewText returns white text of the default size.
func NewText(position geom.Point, text string) Text {
	return Text{Color: White, Position: position, Text: text, Size: DefaultTextSize}
}

func (Circle) Kind() Kind  { return KindCircle }
func (Polygon) Kind() Kind { return KindPolygon }
func (Text) Kind() Kind    { return KindText }

func (c Circle) FormColor() RGB  { return c.Color }
func (p Polygon) FormColor() RGB { return p.Color }
func (t Text) FormColor() RGB    { return t.Color }

func (Circle) sealed()  {}
func (Polygon) sealed() {}
func (Text) sealed()    {}

// WithColor returns a copy of c with the given color.
func (c Circle) WithColor(rgb RGB) Circle { c.Color = rgb; return c }

// WithColor returns a copy of p with the given color.
func (p Polygon) WithColor(rgb RGB) Polygon {
	p.Points = append([]geom.Point(nil), p.Points...)
	p.Color = rgb
	return p
}

// WithColor returns a copy of t with the given color.
func (t Text) WithColor(rgb RGB) Text { t.Color = rgb; return t }

func (c Circle) MapPoints(fn func(geom.Point) (geom.Point, error)) (Form, error) {
	center, err := fn(c.Center)
	if err != nil {
		return nil, fmt.Errorf("circle center: %w", err)
	}
	c.Center = center
	return c, nil
}

func (p Polygon) MapPoints(fn func(geom.Point) (geom.Point, error)) (Form, error) {
	mapped := make([]geom.Point, len(p.Points))
	for i, pt := range p.Points {
		q, err := fn(pt)
		if err != nil {
			return nil, fmt.Errorf("polygon vertex %d: %w", i, err)
		}
		mapped[i] = q
	}
	p.Points = mapped
	return p, nil
}

func (t Text) MapPoints(fn func(geom.Point) (geom.Point, error)) (Form, error) {
	pos, err := fn(t.Position)
	if err != nil {
		return nil, fmt.Errorf("text position: %w", err)
	}
	t.Position = pos
	return t, nil
}

// FormsEqual reports whether a and b hold the same value. Two nil forms are
// equal; a nil form never equals a non-nil one. Pointers to variants are
// never equal to anything, so the diff always treats them as changed.
func FormsEqual(a, b Form) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case Circle:
		y, ok := b.(Circle)
		return ok && x == y
	case Polygon:
		y, ok := b.(Polygon)
		if !ok || x.Color != y.Color || len(x.Points) != len(y.Points) {
			return false
		}
		for i := range x.Points {
			if x.Points[i] != y.Points[i] {
				return false
			}
		}
		return true
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	default:
		return false
	}
}
