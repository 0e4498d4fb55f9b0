// Package inference binds loaded models to the batched predict contract used
// by the detection, orientation and recognition stages.
package inference

import (
	"context"
	"iter"
	"slices"

	"github.com/adverant/nexus/ocr-worker/internal/batch"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

// Model is a loaded single-input, single-output float model.
type Model interface {
	// Run blocks until the runtime returns the output for one batch. It may
	// be called from several goroutines at once.
	Run(input *tensor.Buffer) (*tensor.Buffer, error)
	// BatchSize is the configured batch dimension. Callers never submit more.
	BatchSize() int
	Close() error
}

// EncodeFunc converts one batch of inputs into the model input tensor.
type EncodeFunc[T any] func(in []T) (*tensor.Buffer, error)

// DecodeFunc converts the model output for a batch into one result per input.
type DecodeFunc[T, R any] func(in []T, out *tensor.Buffer) ([]R, error)

// Predictor runs a Model over a lazy input sequence, one output per input,
// preserving order. It is safe for concurrent use when its model is.
type Predictor[T, R any] struct {
	model  Model
	encode EncodeFunc[T]
	decode DecodeFunc[T, R]
}

// NewPredictor creates a predictor bound to model.
func NewPredictor[T, R any](model Model, encode EncodeFunc[T], decode DecodeFunc[T, R]) *Predictor[T, R] {
	return &Predictor[T, R]{model: model, encode: encode, decode: decode}
}

// Predict batches inputs by the model batch size and yields results lazily.
func (p *Predictor[T, R]) Predict(ctx context.Context, inputs iter.Seq[T]) iter.Seq2[R, error] {
	batches, err := batch.Batch(inputs, p.model.BatchSize())
	if err != nil {
		return func(yield func(R, error) bool) {
			var zero R
			yield(zero, err)
		}
	}
	return batch.Unbatch(batches, func(in []T) ([]R, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := p.encode(in)
		if err != nil {
			return nil, err
		}
		y, err := p.model.Run(x)
		if err != nil {
			return nil, err
		}
		return p.decode(in, y)
	})
}

// PredictAll is Predict over a slice, collected.
func (p *Predictor[T, R]) PredictAll(ctx context.Context, inputs []T) ([]R, error) {
	return batch.Collect(p.Predict(ctx, slices.Values(inputs)))
}

// Model returns the bound model.
func (p *Predictor[T, R]) Model() Model {
	return p.model
}
