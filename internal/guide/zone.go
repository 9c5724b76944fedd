package guide

import (
	"time"

	"github.com/banshee-data/tablecast/internal/detect"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
)

// Zone fires once when a point has stayed inside its polygon for at least
// Dwell. It re-arms only after every point has left.
type Zone struct {
	polygon []geom.Point
	dwell   time.Duration

	inside    bool
	enteredAt time.Time
	fired     bool
}

// NewZone returns an armed zone.
func NewZone(polygon []geom.Point, dwell time.Duration) *Zone {
	return &Zone{polygon: append([]geom.Point(nil), polygon...), dwell: dwell}
}

// Update feeds the points seen at now and reports whether the zone
// triggered on this call.
func (z *Zone) Update(points []geom.Point, now time.Time) bool {
	hit := false
	for _, p := range points {
		if geom.InPolygon(p, z.polygon) {
			hit = true
			break
		}
	}
	if !hit {
		z.inside = false
		z.fired = false
		return false
	}
	if !z.inside {
		z.inside = true
		z.enteredAt = now
	}
	if !z.fired && now.Sub(z.enteredAt) >= z.dwell {
		z.fired = true
		return true
	}
	return false
}

// Occupied reports whether a point was inside on the last Update.
func (z *Zone) Occupied() bool { return z.inside }

// Form returns the zone outline, colored by whether it is occupied.
func (z *Zone) Form(idle, occupied playfield.RGB) playfield.Polygon {
	c := idle
	if z.inside {
		c = occupied
	}
	return playfield.Polygon{Color: c, Points: append([]geom.Point(nil), z.polygon...)}
}

// Landmark indices of the 21-point hand model.
const (
	ThumbTip  = 4
	IndexMCP  = 5
	IndexTip  = 8
	PinkyMCP  = 17
	Landmarks = 21
)

// PinchRatio is the thumb-to-index distance, as a fraction of palm width,
// below which a hand counts as pinching.
const PinchRatio = 0.5

// Pinch reports whether hand is pinching and, if so, the midpoint between
// thumb and index tips. Palm width is measured from index MCP to pinky MCP.
func Pinch(hand detect.Hand) (geom.Point, bool) {
	if len(hand.Landmarks) < Landmarks {
		return geom.Point{}, false
	}
	lm := hand.Landmarks
	palm := lm[IndexMCP].Dist(lm[PinkyMCP])
	if palm == 0 {
		return geom.Point{}, false
	}
	if lm[ThumbTip].Dist(lm[IndexTip]) >= PinchRatio*palm {
		return geom.Point{}, false
	}
	return lm[ThumbTip].Mid(lm[IndexTip]), true
}

// Fingertip returns the index fingertip of hand.
func Fingertip(hand detect.Hand) (geom.Point, bool) {
	if len(hand.Landmarks) <= IndexTip {
		return geom.Point{}, false
	}
	return hand.Landmarks[IndexTip], true
}

// Pointers returns the trigger points of every hand: the pinch midpoint
// when pinching, otherwise the index fingertip.
func Pointers(hands []detect.Hand) []geom.Point {
	var out []geom.Point
	for _, h := range hands {
		if p, ok := Pinch(h); ok {
			out = append(out, p)
			continue
		}
		if p, ok := Fingertip(h); ok {
			out = append(out, p)
		}
	}
	return out
}
