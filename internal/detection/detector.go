package detection

import (
	"context"
	"fmt"
	"image"
	"iter"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/imageops"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

// Detector runs the detection model over page images and returns boxes in
// absolute pixel coordinates of each source image.
type Detector struct {
	props     imageops.ModelIOProperties
	post      *PostProcessor
	predictor *inference.Predictor[image.Image, []Detection]
}

// NewDetector binds a detection model to its IO properties and post-processor.
func NewDetector(model inference.Model, props imageops.ModelIOProperties, post *PostProcessor) *Detector {
	d := &Detector{props: props, post: post}
	d.predictor = inference.NewPredictor(model, d.encode, d.decode)
	return d
}

func (d *Detector) encode(in []image.Image) (*tensor.Buffer, error) {
	return imageops.ToBatchedTensor(in, d.props)
}

func (d *Detector) decode(in []image.Image, out *tensor.Buffer) ([][]Detection, error) {
	shape := out.Shape()
	if len(shape) < 3 || shape[0] != len(in) {
		return nil, fmt.Errorf("detection output shape %v does not match batch of %d", shape, len(in))
	}
	h, w := shape[len(shape)-2], shape[len(shape)-1]

	res := make([][]Detection, len(in))
	for i, img := range in {
		sub, err := out.SubArray(i)
		if err != nil {
			return nil, err
		}
		if sub.Len() != h*w {
			return nil, fmt.Errorf("detection output shape %v holds more than one mask per image", shape)
		}
		dets, err := d.post.Process(sub.Data(), w, h)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		for j := range dets {
			dets[j].Box = imageops.MapToSource(dets[j].Box,
				d.props.Width(), d.props.Height(), b.Dx(), b.Dy(), d.props.SymmetricPad)
		}
		res[i] = dets
	}
	return res, nil
}

// Detect yields the detections of each image in order.
func (d *Detector) Detect(ctx context.Context, images iter.Seq[image.Image]) iter.Seq2[[]Detection, error] {
	return d.predictor.Predict(ctx, images)
}

// Boxes strips scores from detections.
func Boxes(dets []Detection) []geom.TextBox {
	out := make([]geom.TextBox, len(dets))
	for i, det := range dets {
		out[i] = det.Box
	}
	return out
}
