// Package batch groups lazy sequences into fixed-size batches for the model
// runtime and flattens batched results back into per-item order.
package batch

import (
	"fmt"
	"iter"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Batch groups seq into consecutive slices of up to size elements. The last
// batch may be shorter. seq is only advanced as batches are consumed.
func Batch[T any](seq iter.Seq[T], size int) (iter.Seq[[]T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	return func(yield func([]T) bool) {
		buf := make([]T, 0, size)
		for v := range seq {
			buf = append(buf, v)
			if len(buf) < size {
				continue
			}
			if !yield(buf) {
				return
			}
			buf = make([]T, 0, size)
		}
		if len(buf) > 0 {
			yield(buf)
		}
	}, nil
}

// Unbatch runs process on each batch and yields its results one by one in
// input order. A processor that returns a different number of results than it
// was given breaks the contract: Unbatch yields an invariant error and stops.
func Unbatch[T, R any](batches iter.Seq[[]T], process func([]T) ([]R, error)) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		n := 0
		for in := range batches {
			out, err := process(in)
			if err != nil {
				yield(zero, err)
				return
			}
			if len(out) != len(in) {
				yield(zero, errors.NewInvariantError(
					"batch %d: processor returned %d results for %d inputs", n, len(out), len(in)))
				return
			}
			for _, r := range out {
				if !yield(r, nil) {
					return
				}
			}
			n++
		}
	}
}

// Collect drains seq, stopping at the first error.
func Collect[R any](seq iter.Seq2[R, error]) ([]R, error) {
	var out []R
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
