package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tablecast/internal/fsutil"
	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
)

func testScene() *playfield.Playfield {
	pf := playfield.MustNew(200, 100)
	pf.Put(1, playfield.Circle{Color: playfield.RGB{R: 255}, Center: geom.Pt(50, 50), Radius: 20, Filled: true})
	pf.Put(2, playfield.NewPolygon(geom.Pt(120, 20), geom.Pt(180, 20), geom.Pt(180, 80), geom.Pt(120, 80)))
	pf.Put(3, playfield.NewText(geom.Pt(10, 95), "Hallo"))
	pf.Put(4, nil)
	return pf
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func TestImageSizeAndContent(t *testing.T) {
	img, err := Image(testScene(), Options{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())

	// Filled circle center is red, empty space is black.
	assert.Equal(t, color.RGBA{R: 255, A: 255}, rgbaAt(img, 50, 50))
	assert.Equal(t, color.RGBA{A: 255}, rgbaAt(img, 100, 10))
	// Inside the unfilled polygon stays black.
	assert.Equal(t, color.RGBA{A: 255}, rgbaAt(img, 150, 50))
}

func TestImageYAxisPointsDown(t *testing.T) {
	pf := playfield.MustNew(100, 100)
	pf.Put(1, playfield.Circle{Color: playfield.White, Center: geom.Pt(50, 10), Radius: 5, Filled: true})

	img, err := Image(pf, Options{})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, rgbaAt(img, 50, 10))
	assert.Equal(t, color.RGBA{A: 255}, rgbaAt(img, 50, 90))
}

func TestImageMargin(t *testing.T) {
	img, err := Image(playfield.MustNew(40, 30), Options{Margin: 10})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 60, 50), img.Bounds())
	assert.Equal(t, color.RGBA{R: 127, G: 127, B: 127, A: 255}, rgbaAt(img, 2, 2))
	assert.Equal(t, color.RGBA{A: 255}, rgbaAt(img, 30, 25))
}

func TestOrientation(t *testing.T) {
	tests := []struct {
		in   string
		want Orientation
		w, h int
	}{
		{"", OrientNone, 200, 100},
		{"90", Orient90, 100, 200},
		{"180", Orient180, 200, 100},
		{"270", Orient270, 100, 200},
		{"flip-h", OrientFlipH, 200, 100},
		{"FLIP-V", OrientFlipV, 200, 100},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			o, err := ParseOrientation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, o)

			img, err := Image(testScene(), Options{Orientation: o})
			require.NoError(t, err)
			assert.Equal(t, tt.w, img.Bounds().Dx())
			assert.Equal(t, tt.h, img.Bounds().Dy())
		})
	}

	_, err := ParseOrientation("45")
	assert.Error(t, err)
}

func TestFlipHMovesContent(t *testing.T) {
	img, err := Image(testScene(), Options{Orientation: OrientFlipH})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, rgbaAt(img, 149, 50))
}

func TestSavePNG(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, SavePNG(fsys, "frame.png", testScene(), Options{}))

	data, err := fsys.ReadFile("frame.png")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, testScene()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "%%EOF")
}
