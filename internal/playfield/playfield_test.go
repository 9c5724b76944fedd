package playfield

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tablecast/internal/geom"
)

func TestNewRejectsInvalidSize(t *testing.T) {
	t.Parallel()

	for _, size := range [][2]int{{0, 10}, {10, 0}, {-1, 5}} {
		_, err := New(size[0], size[1])
		assert.ErrorIs(t, err, ErrInvalidSize, "size %v", size)
	}

	p, err := New(640, 480)
	require.NoError(t, err)
	assert.Equal(t, 640, p.Width())
	assert.Equal(t, 480, p.Height())
}

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	p := MustNew(100, 100)
	c := NewCircle(geom.Pt(10, 10), 5)

	p.Put(1, c)
	got, ok := p.Get(1)
	require.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, p.Delete(1))
	got, ok = p.Get(1)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.True(t, p.Known(1), "tombstone keeps the id known")

	err := p.Delete(42)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAddDuplicate(t *testing.T) {
	t.Parallel()

	p := MustNew(100, 100)
	first := NewText(geom.Pt(1, 2), "first")
	second := NewText(geom.Pt(3, 4), "second")

	require.NoError(t, p.Add(7, first))
	err := p.Add(7, second)
	require.ErrorIs(t, err, ErrDuplicateID)

	got, _ := p.Get(7)
	assert.Equal(t, first, got, "failed add must not overwrite")

	// A tombstoned id can be added again.
	require.NoError(t, p.Delete(7))
	assert.NoError(t, p.Add(7, second))
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	p := MustNew(100, 100)
	assert.ErrorIs(t, p.Update(3, NewCircle(geom.Pt(0, 0), 1)), ErrNotFound)

	p.Put(3, nil)
	require.NoError(t, p.Update(3, NewCircle(geom.Pt(0, 0), 1)))
	assert.Equal(t, 1, p.Len())
}

func TestClearTombstonesKnownIDs(t *testing.T) {
	t.Parallel()

	p := MustNew(100, 100)
	p.Put(1, NewCircle(geom.Pt(0, 0), 1))
	p.Put(2, NewPolygon(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(1, 1)))
	p.Put(3, nil)

	p.Clear()

	forms := p.Forms()
	require.Len(t, forms, 3)
	for id, f := range forms {
		assert.Nil(t, f, "id %d", id)
	}
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, []int{1, 2, 3}, p.IDs())
}

func TestFormsReturnsCopy(t *testing.T) {
	t.Parallel()

	p := MustNew(10, 10)
	p.Put(1, NewCircle(geom.Pt(0, 0), 1))

	forms := p.Forms()
	delete(forms, 1)
	forms[2] = NewCircle(geom.Pt(1, 1), 1)

	assert.True(t, p.Known(1))
	assert.False(t, p.Known(2))
}

func TestCloneAndEqual(t *testing.T) {
	t.Parallel()

	p := MustNew(200, 100)
	p.Put(1, NewPolygon(geom.Pt(0, 0), geom.Pt(5, 0), geom.Pt(5, 5)))
	p.Put(2, NewText(geom.Pt(3, 3), "hi").WithColor(RGB{255, 0, 0}))
	p.Put(3, nil)

	q := p.Clone()
	assert.True(t, p.Equal(q))

	q.Put(1, NewPolygon(geom.Pt(0, 0), geom.Pt(5, 0), geom.Pt(5, 6)))
	assert.False(t, p.Equal(q))
	assert.True(t, p.Known(1))

	// Same visible content, different tombstones.
	r := p.Clone()
	r.Put(99, nil)
	assert.False(t, p.Equal(r))
	assert.True(t, p.Visible(r))

	assert.False(t, p.Equal(MustNew(100, 100)))
}

func TestFormsEqual(t *testing.T) {
	t.Parallel()

	a := NewPolygon(geom.Pt(0, 0), geom.Pt(1, 1))
	b := NewPolygon(geom.Pt(0, 0), geom.Pt(1, 1))
	assert.True(t, FormsEqual(a, b))
	assert.False(t, FormsEqual(a, b.WithColor(RGB{1, 2, 3})))
	assert.False(t, FormsEqual(a, NewCircle(geom.Pt(0, 0), 1)))
	assert.True(t, FormsEqual(nil, nil))
	assert.False(t, FormsEqual(a, nil))

	filled := NewCircle(geom.Pt(0, 0), 1)
	filled.Filled = true
	assert.False(t, FormsEqual(NewCircle(geom.Pt(0, 0), 1), filled))
}

func TestFormsEqualPointerVariants(t *testing.T) {
	t.Parallel()

	c := NewCircle(geom.Pt(1, 1), 2)
	assert.False(t, FormsEqual(&c, &c))
	assert.False(t, FormsEqual(&c, c))
	assert.False(t, FormsEqual(c, &c))

	p := MustNew(10, 10)
	p.Put(1, &c)
	q := MustNew(10, 10)
	q.Put(1, &c)
	assert.NotPanics(t, func() {
		assert.False(t, p.Equal(q))
		assert.False(t, p.Visible(q))
	})
}

func TestConstructorsDefaultToWhite(t *testing.T) {
	t.Parallel()

	assert.Equal(t, White, NewCircle(geom.Point{}, 1).FormColor())
	assert.Equal(t, White, NewPolygon(geom.Point{}).FormColor())
	txt := NewText(geom.Point{}, "x")
	assert.Equal(t, White, txt.FormColor())
	assert.Equal(t, DefaultTextSize, txt.Size)
}

func TestMapPointsPreservesFields(t *testing.T) {
	t.Parallel()

	shift := func(p geom.Point) (geom.Point, error) { return p.Add(geom.Pt(10, 20)), nil }

	red := RGB{255, 0, 0}
	c := NewCircle(geom.Pt(1, 1), 4).WithColor(red)
	c.Filled = true
	got, err := c.MapPoints(shift)
	require.NoError(t, err)
	assert.Equal(t, Circle{Color: red, Center: geom.Pt(11, 21), Radius: 4, Filled: true}, got)

	poly := NewPolygon(geom.Pt(0, 0), geom.Pt(1, 0))
	got, err = poly.MapPoints(shift)
	require.NoError(t, err)
	assert.Equal(t, []geom.Point{geom.Pt(10, 20), geom.Pt(11, 20)}, got.(Polygon).Points)
	assert.Equal(t, geom.Pt(0, 0), poly.Points[0], "source polygon must be untouched")

	txt := Text{Color: red, Position: geom.Pt(2, 2), Text: "a", Size: 12}
	got, err = txt.MapPoints(shift)
	require.NoError(t, err)
	assert.Equal(t, Text{Color: red, Position: geom.Pt(12, 22), Text: "a", Size: 12}, got)

	boom := errors.New("boom")
	_, err = poly.MapPoints(func(geom.Point) (geom.Point, error) { return geom.Point{}, boom })
	assert.ErrorIs(t, err, boom)
}
