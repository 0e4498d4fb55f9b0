// Package gocvtk implements vision.Toolkit on OpenCV through gocv. It is the
// only package that needs the native library; everything else works
// against the vision.Toolkit interface.
package gocvtk

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"gocv.io/x/gocv"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/vision"
)

// Toolkit implements vision.Toolkit on OpenCV.
type Toolkit struct{}

var _ vision.Toolkit = Toolkit{}

// New creates the OpenCV-backed toolkit.
func New() Toolkit {
	return Toolkit{}
}

func maskToMat(m *vision.Mask) (gocv.Mat, error) {
	if m.Width <= 0 || m.Height <= 0 || len(m.Pix) != m.Width*m.Height {
		return gocv.Mat{}, fmt.Errorf("mask holds %d bytes for %dx%d", len(m.Pix), m.Width, m.Height)
	}
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, m.Pix)
}

func matToMask(mat gocv.Mat) *vision.Mask {
	return &vision.Mask{Width: mat.Cols(), Height: mat.Rows(), Pix: mat.ToBytes()}
}

// Open implements vision.Toolkit.
func (Toolkit) Open(m *vision.Mask) (*vision.Mask, error) {
	src, err := maskToMat(m)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap mask: %w", err)
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	if err := gocv.MorphologyEx(src, &dst, gocv.MorphOpen, kernel); err != nil {
		return nil, fmt.Errorf("failed to open mask: %w", err)
	}
	return matToMask(dst), nil
}

// ExternalContours implements vision.Toolkit.
func (Toolkit) ExternalContours(m *vision.Mask) ([]vision.Contour, error) {
	src, err := maskToMat(m)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap mask: %w", err)
	}
	defer src.Close()

	found := gocv.FindContours(src, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer found.Close()

	pts := found.ToPoints()
	out := make([]vision.Contour, len(pts))
	for i, p := range pts {
		out[i] = vision.Contour(p)
	}
	return out, nil
}

// FillContour implements vision.Toolkit.
func (Toolkit) FillContour(dst *vision.Mask, c vision.Contour) error {
	mat, err := maskToMat(dst)
	if err != nil {
		return fmt.Errorf("failed to wrap mask: %w", err)
	}
	defer mat.Close()

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{c})
	defer pv.Close()
	if err := gocv.FillPoly(&mat, pv, color.RGBA{R: 255, G: 255, B: 255, A: 255}); err != nil {
		return fmt.Errorf("failed to fill contour: %w", err)
	}

	copy(dst.Pix, mat.ToBytes())
	return nil
}

// MinAreaRect implements vision.Toolkit.
func (Toolkit) MinAreaRect(c vision.Contour) geom.RotatedRect {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()

	r := gocv.MinAreaRect2f(pv)
	return geom.RotatedRect{
		Center: geom.Point{X: float64(r.Center.X), Y: float64(r.Center.Y)},
		Width:  float64(r.Width),
		Height: float64(r.Height),
		Angle:  r.Angle,
	}
}

// WarpCrop implements vision.Toolkit.
func (Toolkit) WarpCrop(img *image.RGBA, src [3]geom.Point, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid crop size %dx%d", w, h)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("cannot crop an empty image")
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	from := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(src[0].X), Y: float32(src[0].Y)},
		{X: float32(src[1].X), Y: float32(src[1].Y)},
		{X: float32(src[2].X), Y: float32(src[2].Y)},
	})
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: float32(h - 1)},
		{X: 0, Y: 0},
		{X: float32(w - 1), Y: 0},
	})
	defer to.Close()

	m := gocv.GetAffineTransform2f(from, to)
	defer m.Close()

	out := gocv.NewMat()
	defer out.Close()
	if err := gocv.WarpAffine(mat, &out, m, image.Pt(w, h)); err != nil {
		return nil, fmt.Errorf("failed to warp crop: %w", err)
	}

	res, err := out.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert crop: %w", err)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), res, res.Bounds().Min, draw.Src)
	return rgba, nil
}
