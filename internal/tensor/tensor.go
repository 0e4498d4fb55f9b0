// Package tensor provides a shape-checked view over flat float32 buffers
// exchanged with the model runtime.
package tensor

import (
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Wildcard marks a dimension that matches any size in a model IO declaration.
// It is never valid in the shape of a concrete Buffer.
const Wildcard = -1

// Buffer is an immutable N-dimensional float32 array stored row-major.
type Buffer struct {
	shape []int
	data  []float32
}

// New builds a Buffer over a private copy of data.
func New(data []float32, shape []int) (*Buffer, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, errors.NewShapeError(shape, "buffer holds %d elements, shape %v requires %d", len(data), shape, n)
	}
	own := make([]float32, n)
	copy(own, data)
	return &Buffer{shape: append([]int(nil), shape...), data: own}, nil
}

// Zeros allocates a zero-filled Buffer of the given shape.
func Zeros(shape []int) (*Buffer, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	return &Buffer{shape: append([]int(nil), shape...), data: make([]float32, n)}, nil
}

// ElementCount returns the product of shape, rejecting empty shapes and
// non-positive dimensions.
func ElementCount(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.NewShapeError(shape, "shape must have at least one dimension")
	}
	n := 1
	for i, d := range shape {
		if d <= 0 {
			return 0, errors.NewShapeError(shape, "dimension %d of shape %v must be positive, got %d", i, shape, d)
		}
		n *= d
	}
	return n, nil
}

// Shape returns a copy of the buffer's dimensions.
func (b *Buffer) Shape() []int {
	return append([]int(nil), b.shape...)
}

// Len returns the total number of elements.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Data returns a copy of the flat backing store.
func (b *Buffer) Data() []float32 {
	out := make([]float32, len(b.data))
	copy(out, b.data)
	return out
}

// At returns the element at flat index i.
func (b *Buffer) At(i int) float32 {
	return b.data[i]
}

// SubArray drops the leading dimension and returns the i-th slice along it.
// The result shares the read-only backing store of b.
func (b *Buffer) SubArray(i int) (*Buffer, error) {
	if len(b.shape) < 2 {
		return nil, errors.NewShapeError(b.shape, "cannot take a sub-array of a %d-dimensional buffer", len(b.shape))
	}
	if i < 0 || i >= b.shape[0] {
		return nil, fmt.Errorf("sub-array index %d out of range [0, %d)", i, b.shape[0])
	}
	stride := len(b.data) / b.shape[0]
	lo, hi := i*stride, (i+1)*stride
	return &Buffer{
		shape: append([]int(nil), b.shape[1:]...),
		data:  b.data[lo:hi:hi],
	}, nil
}

// Scalar returns element i of an effectively one-dimensional buffer.
func (b *Buffer) Scalar(i int) (float32, error) {
	if len(b.data) != b.shape[0] {
		return 0, errors.NewShapeError(b.shape, "scalar access requires a 1-D buffer, shape is %v", b.shape)
	}
	if i < 0 || i >= len(b.data) {
		return 0, fmt.Errorf("scalar index %d out of range [0, %d)", i, len(b.data))
	}
	return b.data[i], nil
}

// Reshape returns a view of b with a new shape holding the same element count.
func (b *Buffer) Reshape(shape []int) (*Buffer, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	if n != len(b.data) {
		return nil, errors.NewShapeError(shape, "cannot reshape %v (%d elements) to %v", b.shape, len(b.data), shape)
	}
	return &Buffer{shape: append([]int(nil), shape...), data: b.data[:n:n]}, nil
}

// ShapeMatches reports whether actual satisfies the declared shape, where
// Wildcard dimensions in either declaration match anything.
func ShapeMatches(declared, actual []int64) bool {
	if len(declared) != len(actual) {
		return false
	}
	for i := range declared {
		if declared[i] == Wildcard || actual[i] == Wildcard {
			continue
		}
		if declared[i] != actual[i] {
			return false
		}
	}
	return true
}

// Builder fills a zeroed buffer in place before freezing it into a Buffer.
type Builder struct {
	shape []int
	data  []float32
}

// NewBuilder allocates a writable buffer of the given shape.
func NewBuilder(shape []int) (*Builder, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	return &Builder{shape: append([]int(nil), shape...), data: make([]float32, n)}, nil
}

// Set writes v at flat index i.
func (bb *Builder) Set(i int, v float32) {
	bb.data[i] = v
}

// Build freezes the builder. The builder must not be used afterwards.
func (bb *Builder) Build() *Buffer {
	b := &Buffer{shape: bb.shape, data: bb.data}
	bb.data = nil
	return b
}
