// Package detect defines what the organizer consumes from the external
// marker and hand detectors, and reads those detections as JSON lines.
package detect

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/tablecast/internal/geom"
)

var (
	ErrMissingMarker = errors.New("detect: marker not visible")
	ErrBadMarker     = errors.New("detect: marker needs a center or four corners")
)

// DefaultQuadIDs are the marker ids at the table corners, in the order
// top-left, top-right, bottom-left, bottom-right.
var DefaultQuadIDs = [4]int{0, 1, 2, 3}

// Marker is one fiducial seen by the camera, in camera pixels. The
// detector supplies either the four corners or just the center.
type Marker struct {
	ID      int          `json:"id"`
	Corners []geom.Point `json:"corners,omitempty"`
	Center  *geom.Point  `json:"center,omitempty"`
}

// Position returns the marker center, averaging corners when no center
// was supplied.
func (m Marker) Position() (geom.Point, error) {
	if m.Center != nil {
		return *m.Center, nil
	}
	if len(m.Corners) != 4 {
		return geom.Point{}, fmt.Errorf("%w: id %d", ErrBadMarker, m.ID)
	}
	return geom.Centroid(m.Corners), nil
}

// Angle returns the rotation of the marker in degrees [0, 360), taken from
// its first edge. It reports false when corners are unknown.
func (m Marker) Angle() (float64, bool) {
	if len(m.Corners) < 2 {
		return 0, false
	}
	d := m.Corners[1].Sub(m.Corners[0])
	a := math.Mod(math.Atan2(d.Y, d.X)*180/math.Pi, 360)
	if a < 0 {
		a += 360
	}
	return a, true
}

// Markers is the set of markers seen in one frame.
type Markers []Marker

// ByID returns the marker with the given id.
func (ms Markers) ByID(id int) (Marker, bool) {
	for _, m := range ms {
		if m.ID == id {
			return m, true
		}
	}
	return Marker{}, false
}

// Quad returns the positions of the four markers in ids order. It fails
// if any of them is missing.
func (ms Markers) Quad(ids [4]int) ([4]geom.Point, error) {
	var out [4]geom.Point
	for i, id := range ids {
		m, ok := ms.ByID(id)
		if !ok {
			return out, fmt.Errorf("%w: id %d", ErrMissingMarker, id)
		}
		p, err := m.Position()
		if err != nil {
			return out, err
		}
		out[i] = p
	}
	return out, nil
}

// Hand is one tracked hand: 21 landmarks in camera pixels, in the order
// of the usual hand model (wrist first, fingertips at 4, 8, 12, 16, 20).
type Hand struct {
	Landmarks []geom.Point `json:"landmarks"`
}

// Frame is everything detected in one camera frame.
type Frame struct {
	Markers Markers `json:"markers"`
	Hands   []Hand  `json:"hands,omitempty"`
}

// Points returns every marker position and hand landmark, for mapping
// the whole frame at once.
func (f Frame) Points() []geom.Point {
	var out []geom.Point
	for _, m := range f.Markers {
		if p, err := m.Position(); err == nil {
			out = append(out, p)
		}
	}
	for _, h := range f.Hands {
		out = append(out, h.Landmarks...)
	}
	return out
}

// Decode parses one JSON frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("detect: decode frame: %w", err)
	}
	return f, nil
}

// Reader reads newline-delimited JSON frames.
type Reader struct {
	scan *bufio.Scanner
	line int
}

// NewReader returns a Reader over r. Lines may be up to 1 MiB.
func NewReader(r io.Reader) *Reader {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Reader{scan: scan}
}

// Next returns the next frame, skipping blank lines. It returns io.EOF at
// the end of input.
func (r *Reader) Next() (Frame, error) {
	for r.scan.Scan() {
		r.line++
		b := r.scan.Bytes()
		if len(b) == 0 {
			continue
		}
		f, err := Decode(b)
		if err != nil {
			return Frame{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return f, nil
	}
	if err := r.scan.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
