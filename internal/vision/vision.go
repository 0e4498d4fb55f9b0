// Package vision is the narrow computer-vision surface the pipeline needs:
// morphology and contours on binary masks, minimum-area rectangles, polygon
// fill and affine crop extraction. Package gocvtk implements it on OpenCV.
package vision

import (
	"image"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
)

// Mask is a single-channel 8-bit image stored row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates a zeroed mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// Contour is a closed polygon in pixel coordinates.
type Contour []image.Point

// Bounds returns the axis-aligned bounding rectangle of c (max exclusive).
func (c Contour) Bounds() image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: c[0], Max: c[0].Add(image.Pt(1, 1))}
	for _, p := range c[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

// Toolkit is implemented by gocvtk.Toolkit and by test fakes.
type Toolkit interface {
	// Open applies a 3x3 morphological opening to a binary mask.
	Open(m *Mask) (*Mask, error)
	// ExternalContours returns the outer contours of a binary mask.
	ExternalContours(m *Mask) ([]Contour, error)
	// FillContour sets every pixel inside c to 255 in dst.
	FillContour(dst *Mask, c Contour) error
	// MinAreaRect returns the minimum-area rotated rectangle enclosing c.
	MinAreaRect(c Contour) geom.RotatedRect
	// WarpCrop maps src (BL, TL, TR) onto the axis-aligned rectangle
	// (0,h) (0,0) (w,0) and returns the w x h result.
	WarpCrop(img *image.RGBA, src [3]geom.Point, w, h int) (*image.RGBA, error)
}
