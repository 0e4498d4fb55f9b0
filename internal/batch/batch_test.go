package batch

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
)

func TestBatchPreservesOrder(t *testing.T) {
	input := []int{1, 2, 3, 4, 5, 6, 7}
	for size := 1; size <= 9; size++ {
		batches, err := Batch(slices.Values(input), size)
		require.NoError(t, err)

		var flat []int
		for b := range batches {
			assert.LessOrEqual(t, len(b), size)
			assert.NotEmpty(t, b)
			flat = append(flat, b...)
		}
		assert.Equal(t, input, flat, "size %d", size)
	}
}

func TestBatchShapes(t *testing.T) {
	batches, err := Batch(slices.Values([]string{"a", "b", "c", "d", "e"}), 2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, slices.Collect(batches))

	empty, err := Batch(slices.Values([]string{}), 3)
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(empty))
}

func TestBatchRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		_, err := Batch(slices.Values([]int{1}), size)
		assert.Error(t, err)
	}
}

func TestBatchIsLazy(t *testing.T) {
	pulled := 0
	src := func(yield func(int) bool) {
		for i := 0; i < 100; i++ {
			pulled++
			if !yield(i) {
				return
			}
		}
	}
	batches, err := Batch(src, 4)
	require.NoError(t, err)
	for b := range batches {
		assert.Equal(t, []int{0, 1, 2, 3}, b)
		break
	}
	assert.Equal(t, 4, pulled)
}

func TestUnbatchRoundTrip(t *testing.T) {
	input := []int{1, 2, 3, 4, 5}
	batches, err := Batch(slices.Values(input), 2)
	require.NoError(t, err)

	out, err := Collect(Unbatch(batches, func(in []int) ([]int, error) {
		res := make([]int, len(in))
		for i, v := range in {
			res[i] = v * 10
		}
		return res, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30, 40, 50}, out)
}

func TestUnbatchFailsOnCountMismatch(t *testing.T) {
	batches, err := Batch(slices.Values([]int{1, 2, 3}), 2)
	require.NoError(t, err)

	out, err := Collect(Unbatch(batches, func(in []int) ([]int, error) {
		return in[:1], nil
	}))
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, pipelineerrors.ErrorInvariantViolation, pipelineerrors.CodeOf(err))
}

func TestUnbatchPropagatesProcessorError(t *testing.T) {
	boom := errors.New("boom")
	batches, err := Batch(slices.Values([]int{1, 2, 3}), 2)
	require.NoError(t, err)

	calls := 0
	out, err := Collect(Unbatch(batches, func(in []int) ([]int, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return in, nil
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, out)
}
