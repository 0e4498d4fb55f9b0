// Package orientation classifies text crops into 90° rotation steps.
package orientation

import (
	"context"
	"image"
	"math"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/imageops"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

const numClasses = 4

// Prediction is the counter-clockwise rotation the crop content shows.
type Prediction struct {
	Orientation geom.Orientation
	Confidence  float64
}

// Classifier runs a 4-class orientation model over crops.
type Classifier struct {
	props     imageops.ModelIOProperties
	predictor *inference.Predictor[image.Image, Prediction]
}

// NewClassifier creates a new Classifier
func NewClassifier(model inference.Model, props imageops.ModelIOProperties) *Classifier {
	c := &Classifier{props: props}
	c.predictor = inference.NewPredictor(model, c.encode, decode)
	return c
}

func (c *Classifier) encode(in []image.Image) (*tensor.Buffer, error) {
	return imageops.ToBatchedTensor(in, c.props)
}

func decode(in []image.Image, out *tensor.Buffer) ([]Prediction, error) {
	shape := out.Shape()
	if len(shape) != 2 || shape[0] != len(in) || shape[1] != numClasses {
		return nil, errors.NewShapeError(shape, "orientation output %v, expected [%d, %d]", shape, len(in), numClasses)
	}
	res := make([]Prediction, len(in))
	for i := range in {
		row, err := out.SubArray(i)
		if err != nil {
			return nil, err
		}
		class, conf := softmaxArgmax(row.Data())
		o, err := geom.OrientationFromClass(class)
		if err != nil {
			return nil, err
		}
		res[i] = Prediction{Orientation: o, Confidence: conf}
	}
	return res, nil
}

func softmaxArgmax(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	return best, 1 / sum
}

// Classify predicts the orientation of every crop, in order.
func (c *Classifier) Classify(ctx context.Context, crops []image.Image) ([]Prediction, error) {
	if len(crops) == 0 {
		return nil, nil
	}
	return c.predictor.PredictAll(ctx, crops)
}

// Upright rotates crop so its content reads at 0°.
func Upright(crop image.Image, p Prediction) (*image.RGBA, error) {
	return imageops.Rotate(crop, p.Orientation.Inverse())
}
