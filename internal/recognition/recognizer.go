package recognition

import (
	"context"
	"image"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/imageops"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

// Recognizer runs a recognition model over text crops.
type Recognizer struct {
	props     imageops.ModelIOProperties
	decoder   Decoder
	predictor *inference.Predictor[image.Image, Result]
}

// NewRecognizer creates a new Recognizer
func NewRecognizer(model inference.Model, props imageops.ModelIOProperties, decoder Decoder) *Recognizer {
	r := &Recognizer{props: props, decoder: decoder}
	r.predictor = inference.NewPredictor(model, r.encode, r.decode)
	return r
}

func (r *Recognizer) encode(in []image.Image) (*tensor.Buffer, error) {
	return imageops.ToBatchedTensor(in, r.props)
}

func (r *Recognizer) decode(in []image.Image, out *tensor.Buffer) ([]Result, error) {
	shape := out.Shape()
	if len(shape) != 3 || shape[0] != len(in) {
		return nil, errors.NewShapeError(shape, "recognition output %v does not match batch of %d crops", shape, len(in))
	}
	res := make([]Result, len(in))
	for i := range in {
		seq, err := out.SubArray(i)
		if err != nil {
			return nil, err
		}
		if res[i], err = r.decoder.Decode(seq); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Recognize decodes every crop, in order, in model-sized batches.
func (r *Recognizer) Recognize(ctx context.Context, crops []image.Image) ([]Result, error) {
	if len(crops) == 0 {
		return nil, nil
	}
	return r.predictor.PredictAll(ctx, crops)
}
