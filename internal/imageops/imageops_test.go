package imageops

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/geom"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func TestNewModelIOProperties(t *testing.T) {
	p, err := NewModelIOProperties([]float32{0.5, 0.5, 0.5}, []float32{0.25, 0.25, 0.25}, []int{2, 3, 32, 128}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, p.BatchSize())
	assert.Equal(t, 32, p.Height())
	assert.Equal(t, 128, p.Width())
	assert.Equal(t, []int64{-1, 3, 32, 128}, p.InputShape())

	bad := []struct {
		name  string
		mean  []float32
		std   []float32
		shape []int
	}{
		{"short mean", []float32{0.5}, []float32{1, 1, 1}, []int{1, 3, 8, 8}},
		{"long std", []float32{0, 0, 0}, []float32{1, 1, 1, 1}, []int{1, 3, 8, 8}},
		{"zero std", []float32{0, 0, 0}, []float32{1, 0, 1}, []int{1, 3, 8, 8}},
		{"grayscale", []float32{0, 0, 0}, []float32{1, 1, 1}, []int{1, 1, 8, 8}},
		{"rank 3", []float32{0, 0, 0}, []float32{1, 1, 1}, []int{3, 8, 8}},
		{"wildcard batch", []float32{0, 0, 0}, []float32{1, 1, 1}, []int{-1, 3, 8, 8}},
		{"zero height", []float32{0, 0, 0}, []float32{1, 1, 1}, []int{1, 3, 0, 8}},
	}
	for _, tt := range bad {
		_, err := NewModelIOProperties(tt.mean, tt.std, tt.shape, false)
		require.Error(t, err, tt.name)
		assert.Equal(t, errors.ErrorConfigInvalid, errors.CodeOf(err), tt.name)
	}
}

func TestResizeAnchorsTopLeft(t *testing.T) {
	out := Resize(solid(20, 10, white), 8, 8, false)
	require.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())

	// 20x10 scales to 8x4 in the top rows, bottom rows stay black
	assert.Equal(t, white, out.RGBAAt(4, 1))
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(4, 6))
}

func TestResizeSymmetricPad(t *testing.T) {
	out := Resize(solid(10, 20, white), 8, 8, true)

	// 10x20 scales to 4x8 centered: columns 2..5 white
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(0, 4))
	assert.Equal(t, white, out.RGBAAt(3, 4))
	assert.Equal(t, color.RGBA{A: 255}, out.RGBAAt(7, 4))
}

func TestToBatchedTensorNormalizesPlanes(t *testing.T) {
	props, err := NewModelIOProperties([]float32{0.5, 0.25, 0}, []float32{0.5, 0.25, 1}, []int{2, 3, 4, 4}, false)
	require.NoError(t, err)

	red := solid(4, 4, color.RGBA{R: 255, A: 255})
	buf, err := ToBatchedTensor([]image.Image{red, solid(4, 4, white)}, props)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 4}, buf.Shape())

	first, err := buf.SubArray(0)
	require.NoError(t, err)
	r, _ := first.SubArray(0)
	g, _ := first.SubArray(1)
	b, _ := first.SubArray(2)
	assert.InDelta(t, 1.0, r.At(5), 1e-6)  // (1 - 0.5) / 0.5
	assert.InDelta(t, -1.0, g.At(5), 1e-6) // (0 - 0.25) / 0.25
	assert.InDelta(t, 0.0, b.At(5), 1e-6)

	second, _ := buf.SubArray(1)
	g2, _ := second.SubArray(1)
	assert.InDelta(t, 3.0, g2.At(0), 1e-6) // (1 - 0.25) / 0.25
}

func TestToBatchedTensorRejectsOversizedBatch(t *testing.T) {
	props, err := NewModelIOProperties([]float32{0, 0, 0}, []float32{1, 1, 1}, []int{1, 3, 4, 4}, false)
	require.NoError(t, err)
	img := solid(4, 4, white)

	_, err = ToBatchedTensor([]image.Image{img, img}, props)
	assert.Error(t, err)
	_, err = ToBatchedTensor(nil, props)
	assert.Error(t, err)
}

func TestRotate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.SetRGBA(3, 0, white) // top-right corner

	r90, err := Rotate(img, geom.Deg90)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 4), r90.Bounds())
	assert.Equal(t, white, r90.RGBAAt(0, 0), "counter-clockwise turn brings top-right to top-left")

	r180, err := Rotate(img, geom.Deg180)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), r180.Bounds())
	assert.Equal(t, white, r180.RGBAAt(0, 1))

	r270, err := Rotate(img, geom.Deg270)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 4), r270.Bounds())
	assert.Equal(t, white, r270.RGBAAt(1, 3))

	same, err := Rotate(img, geom.Deg0)
	require.NoError(t, err)
	assert.Same(t, img, same)

	_, err = Rotate(img, geom.Orientation(45))
	assert.Error(t, err)
}

func TestMapToSourceInvertsResize(t *testing.T) {
	tests := []struct {
		name      string
		srcW      int
		srcH      int
		symmetric bool
	}{
		{"wide anchored", 2000, 1000, false},
		{"wide centered", 2000, 1000, true},
		{"tall anchored", 1000, 2000, false},
		{"tall centered", 1000, 2000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const canvas = 1024
			fit := fitRect(tt.srcW, tt.srcH, canvas, canvas, tt.symmetric)
			sx := float64(fit.Dx()) / float64(tt.srcW)
			sy := float64(fit.Dy()) / float64(tt.srcH)

			src := geom.TextBox{{X: 100, Y: 400}, {X: 100, Y: 300}, {X: 900, Y: 300}, {X: 900, Y: 400}}
			rel := src.Map(func(p geom.Point) geom.Point {
				return geom.Point{
					X: (p.X*sx + float64(fit.Min.X)) / canvas,
					Y: (p.Y*sy + float64(fit.Min.Y)) / canvas,
				}
			})
			back := MapToSource(rel, canvas, canvas, tt.srcW, tt.srcH, tt.symmetric)
			for i := range src {
				assert.InDelta(t, src[i].X, back[i].X, 1e-6)
				assert.InDelta(t, src[i].Y, back[i].Y, 1e-6)
			}
		})
	}
}

func TestMapToSourceClampsPadding(t *testing.T) {
	// a box reaching into the bottom padding of an anchored wide image
	rel := geom.TextBox{{X: 0, Y: 1}, {X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	back := MapToSource(rel, 100, 100, 200, 100, false)
	assert.Equal(t, geom.Point{X: 0, Y: 100}, back[geom.BottomLeft])
	assert.Equal(t, geom.Point{X: 200, Y: 0}, back[geom.TopRight])
}
