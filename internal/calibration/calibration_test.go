package calibration

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/homography"
	"github.com/banshee-data/tablecast/internal/playfield"
)

func TestParsePointsOrdersByIndex(t *testing.T) {
	data := []byte(`{"10":{"x":5,"y":5},"2":{"x":2,"y":2},"0":{"x":0,"y":0},"1":{"x":1,"y":1}}`)
	pts, err := ParsePoints(data)
	require.NoError(t, err)
	assert.Equal(t, []geom.Point{geom.Pt(0, 0), geom.Pt(1, 1), geom.Pt(2, 2), geom.Pt(5, 5)}, pts)
}

func TestParsePointsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"array", `[1,2]`},
		{"bad index", `{"a":{"x":1,"y":1}}`},
		{"missing y", `{"0":{"x":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePoints([]byte(tt.data))
			assert.ErrorIs(t, err, ErrCalibration)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	pts := DefaultPoints(1920, 1080)

	require.NoError(t, SavePoints(fsys, "cal_projector.json", pts))
	got, err := LoadPoints(fsys, "cal_projector.json")
	require.NoError(t, err)
	assert.Equal(t, pts, got)

	data, err := fsys.ReadFile("cal_projector.json")
	require.NoError(t, err)
	var raw map[string]map[string]float64
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 480.0, raw["0"]["x"])
	assert.Equal(t, 810.0, raw["3"]["y"])
}

func TestLoadPointsMissingFile(t *testing.T) {
	_, err := LoadPoints(fsutil.NewMemoryFileSystem(), "nope.json")
	assert.ErrorIs(t, err, ErrCalibration)
}

func TestDefaultPoints(t *testing.T) {
	assert.Equal(t, []geom.Point{
		geom.Pt(250, 125), geom.Pt(750, 125),
		geom.Pt(250, 375), geom.Pt(750, 375),
	}, DefaultPoints(1000, 500))
}

func TestLoadTransformer(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, SavePoints(fsys, "cam.json", []geom.Point{
		geom.Pt(100, 100), geom.Pt(500, 100), geom.Pt(100, 300), geom.Pt(500, 300),
	}))
	require.NoError(t, SavePoints(fsys, "table.json", []geom.Point{
		geom.Pt(0, 0), geom.Pt(1000, 0), geom.Pt(0, 500), geom.Pt(1000, 500),
	}))

	tr, err := LoadTransformer(fsys, "cam.json", "table.json")
	require.NoError(t, err)
	got, err := tr.MapPoint(geom.Pt(300, 200))
	require.NoError(t, err)
	assert.InDelta(t, 500, got.X, 1e-6)
	assert.InDelta(t, 250, got.Y, 1e-6)
}

func TestLoadTransformerRejects(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	four := DefaultPoints(100, 100)
	require.NoError(t, SavePoints(fsys, "four.json", four))
	require.NoError(t, SavePoints(fsys, "three.json", four[:3]))
	require.NoError(t, SavePoints(fsys, "five.json", append(DefaultPoints(100, 100), geom.Pt(1, 1))))
	require.NoError(t, SavePoints(fsys, "line.json", []geom.Point{
		geom.Pt(0, 0), geom.Pt(1, 1), geom.Pt(2, 2), geom.Pt(3, 3),
	}))

	tests := []struct {
		name     string
		src, dst string
	}{
		{"count mismatch", "four.json", "three.json"},
		{"too few", "three.json", "three.json"},
		{"too many", "five.json", "five.json"},
		{"collinear", "line.json", "four.json"},
		{"missing", "four.json", "absent.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTransformer(fsys, tt.src, tt.dst)
			assert.ErrorIs(t, err, ErrCalibration)
		})
	}

	_, err := LoadTransformer(fsys, "line.json", "four.json")
	assert.True(t, errors.Is(err, homography.ErrDegenerateGeometry))
}

func TestAssess(t *testing.T) {
	src := DefaultPoints(100, 100)
	exact, err := homography.New(src, src)
	require.NoError(t, err)
	q, rmse := Assess(exact)
	assert.Equal(t, QualityExcellent, q)
	assert.Less(t, rmse, RMSEThresholdExcellent)

	// A fifth point far off the fitted plane spoils the fit.
	noisySrc := append(DefaultPoints(100, 100), geom.Pt(50, 50))
	noisyDst := append(DefaultPoints(100, 100), geom.Pt(90, 10))
	noisy, err := homography.New(noisySrc, noisyDst)
	require.NoError(t, err)
	q, rmse = Assess(noisy)
	assert.Equal(t, QualityPoor, q)
	assert.Greater(t, rmse, RMSEThresholdFair)
}

func TestSessionDefaults(t *testing.T) {
	s, err := NewSession(1000, 500, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPoints(1000, 500), s.Points())
	assert.Equal(t, 0, s.Selected())

	_, err = NewSession(0, 500, nil)
	assert.Error(t, err)
}

func TestSessionKeys(t *testing.T) {
	s, err := NewSession(1000, 500, nil)
	require.NoError(t, err)

	assert.Equal(t, ActionRedraw, s.HandleKey('2'))
	assert.Equal(t, 1, s.Selected())

	s.HandleKey('d')
	s.HandleKey('s')
	s.HandleKey('A')
	s.HandleKey('W')
	assert.Equal(t, geom.Pt(750+20-1, 125+20-1), s.Points()[1])
	assert.Equal(t, geom.Pt(250, 125), s.Points()[0], "unselected point must not move")

	s.HandleKey('4')
	s.HandleKey('w')
	s.HandleKey('a')
	assert.Equal(t, geom.Pt(730, 355), s.Points()[3])

	assert.Equal(t, ActionRedraw, s.HandleKey('x'), "unknown keys redraw")
	assert.Equal(t, ActionSave, s.HandleKey('e'))
	assert.Equal(t, ActionQuit, s.HandleKey('q'))
	assert.Equal(t, ActionQuit, s.HandleKey(0x1b))
}

func TestSessionPlayfield(t *testing.T) {
	s, err := NewSession(800, 600, nil)
	require.NoError(t, err)
	s.HandleKey('3')

	pf := s.Playfield()
	assert.Equal(t, 800, pf.Width())
	assert.Equal(t, []int{0, 1, 10, 11, 20, 21, 30, 31}, pf.IDs())

	f, ok := pf.Get(20)
	require.True(t, ok)
	c, ok := f.(playfield.Circle)
	require.True(t, ok)
	assert.Equal(t, playfield.RGB{R: 255}, c.Color)
	assert.Equal(t, s.Points()[2], c.Center)
	assert.True(t, c.Filled)

	f, ok = pf.Get(1)
	require.True(t, ok)
	label, ok := f.(playfield.Text)
	require.True(t, ok)
	assert.Equal(t, "1", label.Text)
	assert.Equal(t, playfield.White, label.Color)
	assert.Equal(t, 20, label.Size)

	assert.Equal(t, 0, s.Cleared().Len())
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "save", ActionSave.String())
	assert.Equal(t, "Action(9)", Action(9).String())
}
