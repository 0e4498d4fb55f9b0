package gocvtk

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/detection"
	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/vision"
)

func rectMask(w, h int, r image.Rectangle) *vision.Mask {
	m := vision.NewMask(w, h)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Pix[y*w+x] = 255
		}
	}
	return m
}

func TestOpenRemovesSpeckle(t *testing.T) {
	m := rectMask(20, 20, image.Rect(4, 4, 14, 10))
	m.Pix[18*20+18] = 255

	opened, err := New().Open(m)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), opened.Pix[18*20+18])
	assert.Equal(t, uint8(255), opened.Pix[6*20+8])
}

func TestContoursAndMinAreaRect(t *testing.T) {
	tk := New()
	m := rectMask(40, 20, image.Rect(5, 8, 15, 12))

	contours, err := tk.ExternalContours(m)
	require.NoError(t, err)
	require.Len(t, contours, 1)
	assert.Equal(t, image.Rect(5, 8, 15, 12), contours[0].Bounds())

	r := tk.MinAreaRect(contours[0]).Normalize()
	assert.InDelta(t, 0, r.Angle, 1e-6)
	assert.InDelta(t, 9, r.Width, 1e-3)
	assert.InDelta(t, 3, r.Height, 1e-3)
	assert.InDelta(t, 9.5, r.Center.X, 1e-3)
	assert.InDelta(t, 9.5, r.Center.Y, 1e-3)
}

func TestFillContour(t *testing.T) {
	dst := vision.NewMask(10, 10)
	require.NoError(t, New().FillContour(dst, vision.Contour{{X: 2, Y: 2}, {X: 5, Y: 2}, {X: 5, Y: 4}, {X: 2, Y: 4}}))

	filled := 0
	for _, v := range dst.Pix {
		if v > 0 {
			filled++
		}
	}
	assert.Equal(t, 12, filled)
	assert.Equal(t, uint8(255), dst.Pix[3*10+3])
	assert.Equal(t, uint8(0), dst.Pix[8*10+8])
}

func TestWarpCropAxisAligned(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	for y := 5; y < 10; y++ {
		for x := 10; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	src := [3]geom.Point{{X: 10, Y: 9}, {X: 10, Y: 5}, {X: 19, Y: 5}}

	crop, err := New().WarpCrop(img, src, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 5), crop.Bounds())
	r, g, b, _ := crop.At(5, 2).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, uint32(10), g>>8)
	assert.Equal(t, uint32(10), b>>8)
}

func TestToolkitReportsFailures(t *testing.T) {
	tk := New()
	torn := &vision.Mask{Width: 4, Height: 4, Pix: make([]uint8, 10)}
	square := vision.Contour{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}, {X: 0, Y: 2}}

	_, err := tk.Open(torn)
	assert.ErrorContains(t, err, "failed to wrap mask")
	_, err = tk.ExternalContours(torn)
	assert.Error(t, err)
	assert.Error(t, tk.FillContour(torn, square))

	src := [3]geom.Point{{X: 0, Y: 4}, {X: 0, Y: 0}, {X: 4, Y: 0}}
	_, err = tk.WarpCrop(image.NewRGBA(image.Rect(0, 0, 8, 8)), src, 0, 5)
	assert.Error(t, err)
	_, err = tk.WarpCrop(image.NewRGBA(image.Rectangle{}), src, 4, 4)
	assert.Error(t, err)
}

func TestDetectionOnOpenCV(t *testing.T) {
	const w, h = 40, 20
	mask := make([]float32, w*h)
	for y := 8; y < 12; y++ {
		for x := 10; x < 20; x++ {
			mask[y*w+x] = 0.9
		}
	}
	pp := detection.NewPostProcessor(detection.Config{BinarizationThreshold: 0.1, ScoreThreshold: 0.1}, New())

	dets, err := pp.Process(mask, w, h)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	min, max := dets[0].Box.Bounds()
	assert.InDelta(t, 10, (max.X-min.X)*w, 1.5)
	assert.InDelta(t, 4, (max.Y-min.Y)*h, 1.5)
}
