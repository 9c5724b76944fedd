// Package homography computes and applies planar projective transforms
// between coordinate spaces: camera pixels, the table plane and the
// projector output.
//
// A Transformer is built from N >= 4 point correspondences. The eight
// unknowns of H (with h22 fixed at 1) are solved by least squares over the
// 2N x 8 system after Hartley normalization of both point sets.
package homography

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/monitoring"
	"github.com/banshee-data/tablecast/internal/playfield"
)

var (
	ErrDegenerateGeometry   = errors.New("homography: degenerate geometry")
	ErrProjectiveDegeneracy = errors.New("homography: point maps to infinity")
	ErrUnsupportedValue     = errors.New("homography: unsupported value")
)

const (
	// MinCorrespondences is the number of point pairs needed to fix H.
	MinCorrespondences = 4

	// maxCondition bounds the condition number of the normalized system.
	// Collinear or coincident inputs push it to +Inf or near 1e16.
	maxCondition = 1e10

	// wEpsilon is the smallest homogeneous scale accepted by MapPoint.
	wEpsilon = 1e-12
)

// Transformer maps points from a source plane to a destination plane.
// It is immutable and safe for concurrent use.
type Transformer struct {
	src []geom.Point
	dst []geom.Point
	h   [3][3]float64
}

// New solves the homography taking src[i] to dst[i].
func New(src, dst []geom.Point) (*Transformer, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: %d source points, %d destination points",
			ErrDegenerateGeometry, len(src), len(dst))
	}
	if len(src) < MinCorrespondences {
		return nil, fmt.Errorf("%w: need at least %d correspondences, got %d",
			ErrDegenerateGeometry, MinCorrespondences, len(src))
	}
	for i := range src {
		if !src[i].IsFinite() || !dst[i].IsFinite() {
			return nil, fmt.Errorf("%w: correspondence %d is not finite", ErrDegenerateGeometry, i)
		}
	}

	tSrc, nSrc, err := normalize(src)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	tDst, nDst, err := normalize(dst)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	n := len(src)
	a := mat.NewDense(2*n, 8, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := 0; i < n; i++ {
		x, y := nSrc[i].X, nSrc[i].Y
		u, v := nDst[i].X, nDst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	if c := mat.Cond(a, 2); math.IsNaN(c) || c > maxCondition {
		return nil, fmt.Errorf("%w: system is ill-conditioned (cond=%g)", ErrDegenerateGeometry, c)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}

	hn := mat.NewDense(3, 3, []float64{
		sol.AtVec(0), sol.AtVec(1), sol.AtVec(2),
		sol.AtVec(3), sol.AtVec(4), sol.AtVec(5),
		sol.AtVec(6), sol.AtVec(7), 1,
	})

	// Undo the normalization: H = inv(Tdst) * Hn * Tsrc.
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	var h mat.Dense
	h.Product(&tDstInv, hn, tSrc)

	m, err := fromDense(&h)
	if err != nil {
		return nil, err
	}
	return &Transformer{
		src: append([]geom.Point(nil), src...),
		dst: append([]geom.Point(nil), dst...),
		h:   m,
	}, nil
}

// FromQuads is New for exactly four correspondences given as arrays.
func FromQuads(src, dst [4]geom.Point) (*Transformer, error) {
	return New(src[:], dst[:])
}

// normalize returns the similarity T that moves pts to a centroid at the
// origin with mean distance sqrt(2), along with the transformed points.
func normalize(pts []geom.Point) (*mat.Dense, []geom.Point, error) {
	c := geom.Centroid(pts)
	var mean float64
	for _, p := range pts {
		mean += p.Dist(c)
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return nil, nil, fmt.Errorf("%w: points are coincident", ErrDegenerateGeometry)
	}
	s := math.Sqrt2 / mean

	out := make([]geom.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(c).Scale(s)
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	})
	return t, out, nil
}

// fromDense scales h so that h22 == 1 and checks it is usable.
func fromDense(h *mat.Dense) ([3][3]float64, error) {
	var m [3][3]float64
	h22 := h.At(2, 2)
	if math.Abs(h22) < wEpsilon || math.IsNaN(h22) {
		return m, fmt.Errorf("%w: h22 vanishes", ErrDegenerateGeometry)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := h.At(r, c) / h22
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return m, fmt.Errorf("%w: solution is not finite", ErrDegenerateGeometry)
			}
			m[r][c] = v
		}
	}
	d := mat.NewDense(3, 3, flatten(m))
	if det := mat.Det(d); math.Abs(det) < 1e-12*math.Pow(mat.Norm(d, 2), 3) {
		return m, fmt.Errorf("%w: matrix is singular (det=%g)", ErrDegenerateGeometry, det)
	}
	return m, nil
}

func flatten(m [3][3]float64) []float64 {
	return []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
}

// Matrix returns H with h22 == 1.
func (t *Transformer) Matrix() [3][3]float64 { return t.h }

// Source returns a copy of the source correspondences.
func (t *Transformer) Source() []geom.Point { return append([]geom.Point(nil), t.src...) }

// Destination returns a copy of the destination correspondences.
func (t *Transformer) Destination() []geom.Point { return append([]geom.Point(nil), t.dst...) }

// MapPoint applies H to p in homogeneous coordinates.
func (t *Transformer) MapPoint(p geom.Point) (geom.Point, error) {
	if !p.IsFinite() {
		return geom.Point{}, fmt.Errorf("%w: point %v is not finite", ErrUnsupportedValue, p)
	}
	h := &t.h
	x := h[0][0]*p.X + h[0][1]*p.Y + h[0][2]
	y := h[1][0]*p.X + h[1][1]*p.Y + h[1][2]
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if math.Abs(w) < wEpsilon {
		return geom.Point{}, fmt.Errorf("%w: %v (w=%g)", ErrProjectiveDegeneracy, p, w)
	}
	return geom.Point{X: x / w, Y: y / w}, nil
}

// MapPoints maps pts in order. It stops at the first failing point.
func (t *Transformer) MapPoints(pts []geom.Point) ([]geom.Point, error) {
	out := make([]geom.Point, len(pts))
	for i, p := range pts {
		q, err := t.MapPoint(p)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out[i] = q
	}
	return out, nil
}

// MapObject maps a nested value. It accepts a geom.Point, a []geom.Point,
// a []any whose elements are themselves accepted values, or nil. Anything
// else is rejected with ErrUnsupportedValue.
func (t *Transformer) MapObject(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case geom.Point:
		return t.MapPoint(x)
	case []geom.Point:
		return t.MapPoints(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			m, err := t.MapObject(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = m
		}
		return out, nil
	default:
		monitoring.Logf("[Homography] MapObject: refusing value of type %T", v)
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// MapForm returns f with every embedded point mapped. Color and the other
// non-geometric fields are kept. A nil form maps to nil.
func (t *Transformer) MapForm(f playfield.Form) (playfield.Form, error) {
	if f == nil {
		return nil, nil
	}
	return f.MapPoints(t.MapPoint)
}

// TransformPlayfield writes the mapped form of every non-nil entry of src
// into dst, keeping ids. Tombstones in src are skipped and ids already in
// dst are left alone, so callers wanting stale removal clear dst first.
// Forms that fail to map are skipped; their errors are joined.
func (t *Transformer) TransformPlayfield(src, dst *playfield.Playfield) error {
	var errs []error
	for _, id := range src.IDs() {
		f, ok := src.Get(id)
		if !ok {
			continue
		}
		mapped, err := t.MapForm(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("form %d: %w", id, err))
			continue
		}
		dst.Put(id, mapped)
	}
	return errors.Join(errs...)
}

// Inverse returns the transformer mapping the destination plane back to
// the source plane.
func (t *Transformer) Inverse() (*Transformer, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, flatten(t.h))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	m, err := fromDense(&inv)
	if err != nil {
		return nil, err
	}
	return &Transformer{src: t.Destination(), dst: t.Source(), h: m}, nil
}

// Then returns the transformer applying t followed by next, such as
// camera to table followed by table to projector.
func (t *Transformer) Then(next *Transformer) (*Transformer, error) {
	var prod mat.Dense
	prod.Mul(mat.NewDense(3, 3, flatten(next.h)), mat.NewDense(3, 3, flatten(t.h)))
	m, err := fromDense(&prod)
	if err != nil {
		return nil, err
	}
	out := &Transformer{src: t.Source(), h: m}
	dst, err := out.MapPoints(out.src)
	if err != nil {
		return nil, err
	}
	out.dst = dst
	return out, nil
}

// ReprojectionRMSE is the root mean square distance between each mapped
// source point and its destination. It is zero up to rounding for an exact
// four-point fit and measures fit quality with more correspondences.
func (t *Transformer) ReprojectionRMSE() float64 {
	if len(t.src) == 0 {
		return 0
	}
	var sum float64
	for i, p := range t.src {
		q, err := t.MapPoint(p)
		if err != nil {
			return math.Inf(1)
		}
		d := q.Dist(t.dst[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(t.src)))
}

func (t *Transformer) String() string {
	h := t.h
	return fmt.Sprintf("H[[%.6g %.6g %.6g] [%.6g %.6g %.6g] [%.6g %.6g %.6g]]",
		h[0][0], h[0][1], h[0][2], h[1][0], h[1][1], h[1][2], h[2][0], h[2][1], h[2][2])
}
