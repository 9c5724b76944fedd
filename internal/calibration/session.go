package calibration

import (
	"fmt"
	"strconv"

	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
)

// Step sizes for moving the selected point.
const (
	CoarseStep = 20.0
	FineStep   = 1.0
)

const (
	markerRadius   = 5
	markerTextSize = 20
)

var (
	selectedColor = playfield.RGB{R: 255}
	idleColor     = playfield.White
)

// Action tells the caller what to do after a key press.
type Action int

const (
	// ActionRedraw means the markers changed, or may have, and should be
	// republished.
	ActionRedraw Action = iota
	// ActionSave means the points should be written and the session ended.
	ActionSave
	// ActionQuit ends the session without saving.
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionRedraw:
		return "redraw"
	case ActionSave:
		return "save"
	case ActionQuit:
		return "quit"
	}
	return "Action(" + strconv.Itoa(int(a)) + ")"
}

// Session moves four calibration markers around a plane in response to
// key presses. Keys 1-4 select a marker, w/a/s/d move it by CoarseStep and
// W/A/S/D by FineStep. 'e' saves, 'q' or ESC quits.
//
// A Session is not safe for concurrent use.
type Session struct {
	width, height int
	points        [PointCount]geom.Point
	selected      int
}

// NewSession starts a session over a w x h plane. pts seeds the marker
// positions; nil or a list of the wrong length falls back to DefaultPoints.
func NewSession(w, h int, pts []geom.Point) (*Session, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("calibration: invalid plane size %dx%d", w, h)
	}
	if len(pts) != PointCount {
		pts = DefaultPoints(w, h)
	}
	s := &Session{width: w, height: h}
	copy(s.points[:], pts)
	return s, nil
}

// Points returns the current marker positions in index order.
func (s *Session) Points() []geom.Point {
	return append([]geom.Point(nil), s.points[:]...)
}

// Selected returns the index of the marker that moves.
func (s *Session) Selected() int { return s.selected }

// HandleKey applies one key press.
func (s *Session) HandleKey(r rune) Action {
	switch r {
	case '1', '2', '3', '4':
		s.selected = int(r - '1')
	case 'w':
		s.move(0, -CoarseStep)
	case 's':
		s.move(0, CoarseStep)
	case 'a':
		s.move(-CoarseStep, 0)
	case 'd':
		s.move(CoarseStep, 0)
	case 'W':
		s.move(0, -FineStep)
	case 'S':
		s.move(0, FineStep)
	case 'A':
		s.move(-FineStep, 0)
	case 'D':
		s.move(FineStep, 0)
	case 'e':
		return ActionSave
	case 'q', 0x1b:
		return ActionQuit
	}
	return ActionRedraw
}

func (s *Session) move(dx, dy float64) {
	s.points[s.selected] = s.points[s.selected].Add(geom.Pt(dx, dy))
}

// Playfield renders the markers: each point i is a circle with id i*10 and
// a label "i+1" with id i*10+1. The selected marker is red.
func (s *Session) Playfield() *playfield.Playfield {
	pf := playfield.MustNew(s.width, s.height)
	for i, p := range s.points {
		c := idleColor
		if i == s.selected {
			c = selectedColor
		}
		circle := playfield.Circle{Color: c, Center: p, Radius: markerRadius, Filled: true}
		label := playfield.Text{
			Color:    c,
			Position: p.Add(geom.Pt(markerRadius*2, -markerRadius*2)),
			Text:     strconv.Itoa(i + 1),
			Size:     markerTextSize,
		}
		pf.Put(i*10, circle)
		pf.Put(i*10+1, label)
	}
	return pf
}

// Cleared returns an empty playfield of the session's size, published when
// the session ends so the markers disappear.
func (s *Session) Cleared() *playfield.Playfield {
	return playfield.MustNew(s.width, s.height)
}
