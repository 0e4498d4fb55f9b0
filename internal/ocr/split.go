package ocr

import (
	"image"
	"math"
)

// SplitConfig controls how wide crops are cut before recognition.
type SplitConfig struct {
	// MaxRatio is the width/height ratio above which a crop is split.
	MaxRatio float64 `yaml:"max_ratio"`
	// TargetRatio is the ratio each part aims for.
	TargetRatio float64 `yaml:"target_ratio"`
	// Dilation widens every part so neighbours overlap.
	Dilation float64 `yaml:"dilation"`
}

// DefaultSplitConfig returns the split parameters used by the stock
// recognition models.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{MaxRatio: 8, TargetRatio: 6, Dilation: 1.4}
}

// SplitCrops cuts every crop wider than cfg.MaxRatio into
// ceil(ratio / cfg.TargetRatio) overlapping parts. It returns the flat list
// of parts and, per input crop, how many parts it produced.
func SplitCrops(crops []*image.RGBA, cfg SplitConfig) ([]*image.RGBA, []int) {
	parts := make([]*image.RGBA, 0, len(crops))
	counts := make([]int, len(crops))

	for i, crop := range crops {
		b := crop.Bounds()
		w, h := b.Dx(), b.Dy()
		if h == 0 || float64(w)/float64(h) <= cfg.MaxRatio {
			parts = append(parts, crop)
			counts[i] = 1
			continue
		}

		n := int(math.Ceil(float64(w) / float64(h) / cfg.TargetRatio))
		rawW := float64(w) / float64(n)
		half := cfg.Dilation * rawW / 2
		for k := 0; k < n; k++ {
			center := (float64(k) + 0.5) * rawW
			x0 := max(0, int(math.Round(center-half)))
			x1 := min(w, int(math.Round(center+half)))
			if x1 <= x0 {
				continue
			}
			r := image.Rect(b.Min.X+x0, b.Min.Y, b.Min.X+x1, b.Max.Y)
			parts = append(parts, crop.SubImage(r).(*image.RGBA))
			counts[i]++
		}
	}
	return parts, counts
}
