package imageops

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
	"github.com/adverant/nexus/ocr-worker/internal/vision"
)

// ToRGBA returns img as an *image.RGBA anchored at the origin, converting
// when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// fitRect returns where a srcW x srcH image lands inside a targetW x targetH
// canvas after an aspect-preserving scale.
func fitRect(srcW, srcH, targetW, targetH int, symmetric bool) image.Rectangle {
	scale := math.Min(float64(targetW)/float64(srcW), float64(targetH)/float64(srcH))
	w := min(targetW, max(1, int(math.Round(float64(srcW)*scale))))
	h := min(targetH, max(1, int(math.Round(float64(srcH)*scale))))

	var off image.Point
	if symmetric {
		off = image.Pt((targetW-w)/2, (targetH-h)/2)
	}
	return image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}
}

// Resize scales img to fit inside targetW x targetH preserving its aspect
// ratio. The rest of the canvas is black; the image is centered when
// symmetricPad is set and anchored top-left otherwise.
func Resize(img image.Image, targetW, targetH int, symmetricPad bool) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	b := img.Bounds()
	if b.Empty() {
		return canvas
	}
	dst := fitRect(b.Dx(), b.Dy(), targetW, targetH, symmetricPad)
	draw.BiLinear.Scale(canvas, dst, img, b, draw.Src, nil)
	return canvas
}

// ToBatchedTensor resizes each image per props and writes channel-planar
// normalized values (pixel/255 - mean) / std into one [n, 3, H, W] tensor.
func ToBatchedTensor(images []image.Image, props ModelIOProperties) (*tensor.Buffer, error) {
	if len(images) > props.BatchSize() {
		return nil, fmt.Errorf("%d images exceed model batch size %d", len(images), props.BatchSize())
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to batch")
	}

	h, w := props.Height(), props.Width()
	plane := h * w
	bb, err := tensor.NewBuilder([]int{len(images), 3, h, w})
	if err != nil {
		return nil, err
	}

	for i, img := range images {
		resized := Resize(img, w, h, props.SymmetricPad)
		base := i * 3 * plane
		for y := 0; y < h; y++ {
			row := resized.Pix[y*resized.Stride:]
			for x := 0; x < w; x++ {
				px := row[x*4 : x*4+3]
				for c := 0; c < 3; c++ {
					v := (float32(px[c])/255 - props.Mean[c]) / props.Std[c]
					bb.Set(base+c*plane+y*w+x, v)
				}
			}
		}
	}
	return bb.Build(), nil
}

// ExtractCrop warps the region under box into an axis-aligned image whose
// width is the TL-TR distance and height the TL-BL distance, cropping and
// de-rotating in one step.
func ExtractCrop(tk vision.Toolkit, img *image.RGBA, box geom.TextBox) (*image.RGBA, error) {
	w := max(1, int(math.Round(box.Width())))
	h := max(1, int(math.Round(box.Height())))
	src := [3]geom.Point{box[geom.BottomLeft], box[geom.TopLeft], box[geom.TopRight]}
	return tk.WarpCrop(img, src, w, h)
}

// Rotate turns img counter-clockwise by o. 90° and 270° swap the dimensions.
func Rotate(img image.Image, o geom.Orientation) (*image.RGBA, error) {
	switch o {
	case geom.Deg0:
		return ToRGBA(img), nil
	case geom.Deg90:
		return ToRGBA(imaging.Rotate90(img)), nil
	case geom.Deg180:
		return ToRGBA(imaging.Rotate180(img)), nil
	case geom.Deg270:
		return ToRGBA(imaging.Rotate270(img)), nil
	}
	return nil, fmt.Errorf("unsupported orientation %d", o)
}

// MapToSource converts a box in relative [0,1] coordinates of a resized and
// padded canvas back into absolute pixels of the srcW x srcH source image,
// clamped to the image bounds.
func MapToSource(box geom.TextBox, canvasW, canvasH, srcW, srcH int, symmetricPad bool) geom.TextBox {
	fit := fitRect(srcW, srcH, canvasW, canvasH, symmetricPad)
	sx := float64(fit.Dx()) / float64(srcW)
	sy := float64(fit.Dy()) / float64(srcH)

	return box.Map(func(p geom.Point) geom.Point {
		x := (p.X*float64(canvasW) - float64(fit.Min.X)) / sx
		y := (p.Y*float64(canvasH) - float64(fit.Min.Y)) / sy
		return geom.Point{
			X: geom.Clamp(x, 0, float64(srcW)),
			Y: geom.Clamp(y, 0, float64(srcH)),
		}
	})
}
