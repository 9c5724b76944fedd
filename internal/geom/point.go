// Package geom holds the 2D primitives shared by every coordinate space
// (camera pixels, table plane, projector output).
package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrParallel is returned when two lines have no unique intersection.
var ErrParallel = errors.New("lines are parallel")

// Point is a 2D position. It is a plain value; two points are the same
// point when their coordinates are equal.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p+q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale returns p multiplied by k.
func (p Point) Scale(k float64) Point {
	return Point{X: p.X * k, Y: p.Y * k}
}

// Mid returns the midpoint of p and q.
func (p Point) Mid(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Centroid returns the arithmetic mean of pts. The centroid of no points is
// the origin.
func Centroid(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var sum Point
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Scale(1 / float64(len(pts)))
}

// DiagonalIntersection returns the point where the diagonal tl→br crosses
// the diagonal tr→bl of a quadrilateral.
func DiagonalIntersection(tl, tr, bl, br Point) (Point, error) {
	r := br.Sub(tl)
	s := bl.Sub(tr)
	// Solve tl + t*r = tr + u*s for t with Cramer's rule.
	det := r.X*(-s.Y) - (-s.X)*r.Y
	if math.Abs(det) < 1e-12 {
		return Point{}, ErrParallel
	}
	b := tr.Sub(tl)
	t := (b.X*(-s.Y) - (-s.X)*b.Y) / det
	return tl.Add(r.Scale(t)), nil
}

// InPolygon reports whether p lies inside the polygon poly using ray
// casting. Points on an edge count as inside.
func InPolygon(p Point, poly []Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(p, a, b Point) bool {
	const eps = 1e-9
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > eps {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-eps && p.X <= math.Max(a.X, b.X)+eps &&
		p.Y >= math.Min(a.Y, b.Y)-eps && p.Y <= math.Max(a.Y, b.Y)+eps
}
