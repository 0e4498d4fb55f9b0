// Package imageops prepares page images for the models and maps model-space
// geometry back to the source image.
package imageops

import (
	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// ModelIOProperties describes how images are normalized and laid out for one
// model: per-channel mean and std, and the BCHW input shape.
type ModelIOProperties struct {
	Mean         [3]float32
	Std          [3]float32
	Shape        [4]int
	SymmetricPad bool
}

// NewModelIOProperties validates and builds ModelIOProperties. Channel count
// is fixed at 3 (RGB).
func NewModelIOProperties(mean, std []float32, shape []int, symmetricPad bool) (ModelIOProperties, error) {
	var p ModelIOProperties
	if len(mean) != 3 {
		return p, errors.NewConfigError("mean must have 3 values, got %d", len(mean))
	}
	if len(std) != 3 {
		return p, errors.NewConfigError("std must have 3 values, got %d", len(std))
	}
	if len(shape) != 4 {
		return p, errors.NewConfigError("shape must be [batch, channels, height, width], got %v", shape)
	}
	if shape[1] != 3 {
		return p, errors.NewConfigError("shape must have 3 channels, got %d", shape[1])
	}
	for i, d := range shape {
		if d <= 0 {
			return p, errors.NewConfigError("shape dimension %d must be positive, got %v", i, shape)
		}
	}
	for i, s := range std {
		if s == 0 {
			return p, errors.NewConfigError("std[%d] must be non-zero", i)
		}
	}

	copy(p.Mean[:], mean)
	copy(p.Std[:], std)
	copy(p.Shape[:], shape)
	p.SymmetricPad = symmetricPad
	return p, nil
}

func (p ModelIOProperties) BatchSize() int { return p.Shape[0] }
func (p ModelIOProperties) Height() int    { return p.Shape[2] }
func (p ModelIOProperties) Width() int     { return p.Shape[3] }

// InputShape returns the model input declaration with a wildcard batch.
func (p ModelIOProperties) InputShape() []int64 {
	return []int64{-1, int64(p.Shape[1]), int64(p.Shape[2]), int64(p.Shape[3])}
}
