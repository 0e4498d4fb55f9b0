package storage

import (
	"fmt"
	"maps"
	"slices"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
)

// FlattenBox stores a box as [x0, y0, x1, y1, x2, y2, x3, y3] in corner order.
func FlattenBox(box geom.TextBox) []float64 {
	out := make([]float64, 0, 8)
	for _, p := range box {
		out = append(out, p.X, p.Y)
	}
	return out
}

// UnflattenBox reverses FlattenBox.
func UnflattenBox(v []float64) (geom.TextBox, error) {
	var box geom.TextBox
	if len(v) != 8 {
		return box, fmt.Errorf("box column has %d values, expected 8", len(v))
	}
	for i := range box {
		box[i] = geom.Point{X: v[2*i], Y: v[2*i+1]}
	}
	return box, nil
}

func sortedPages[V any](pages map[int]V) []int {
	return slices.Sorted(maps.Keys(pages))
}
