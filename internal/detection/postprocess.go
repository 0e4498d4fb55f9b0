// Package detection turns text-detection model output into scored, rotated
// text boxes.
package detection

import (
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/vision"
)

// Config holds the detection thresholds.
type Config struct {
	BinarizationThreshold float64 `yaml:"binarization_threshold"`
	ScoreThreshold        float64 `yaml:"score_threshold"`
	UnclipRatio           float64 `yaml:"unclip_ratio"`
}

// DefaultConfig returns the thresholds used for DB-style detection models.
func DefaultConfig() Config {
	return Config{
		BinarizationThreshold: 0.3,
		ScoreThreshold:        0.1,
		UnclipRatio:           1.5,
	}
}

// minBoxSide is the smallest bounding-box side, in mask pixels, kept as text.
const minBoxSide = 2

// Detection is one text box with its mean mask score.
type Detection struct {
	Box   geom.TextBox
	Score float64
}

// PostProcessor converts a probability mask into relative text boxes.
type PostProcessor struct {
	cfg Config
	tk  vision.Toolkit
}

// NewPostProcessor creates a post-processor using tk for contour work.
func NewPostProcessor(cfg Config, tk vision.Toolkit) *PostProcessor {
	return &PostProcessor{cfg: cfg, tk: tk}
}

// scratchMask is a reusable contour fill buffer that is zeroed after every use.
type scratchMask struct {
	m *vision.Mask
}

func (s *scratchMask) use(fn func(m *vision.Mask) error) error {
	defer clear(s.m.Pix)
	return fn(s.m)
}

// Process runs binarize, opening, contour scoring, rectangle fitting and
// unclip over one width x height mask. Boxes are returned in [0,1]
// coordinates of the mask.
func (pp *PostProcessor) Process(mask []float32, width, height int) ([]Detection, error) {
	if len(mask) != width*height {
		return nil, fmt.Errorf("mask has %d values, expected %dx%d", len(mask), width, height)
	}

	binary := Binarize(mask, width, height, pp.cfg.BinarizationThreshold)
	opened, err := pp.tk.Open(binary)
	if err != nil {
		return nil, fmt.Errorf("morphological opening failed: %w", err)
	}
	contours, err := pp.tk.ExternalContours(opened)
	if err != nil {
		return nil, fmt.Errorf("contour search failed: %w", err)
	}

	scratch := &scratchMask{m: vision.NewMask(width, height)}
	var out []Detection
	for _, c := range contours {
		bounds := c.Bounds()
		if bounds.Dx() < minBoxSide || bounds.Dy() < minBoxSide {
			continue
		}

		var score float64
		err := scratch.use(func(m *vision.Mask) error {
			if err := pp.tk.FillContour(m, c); err != nil {
				return err
			}
			score = ContourScore(mask, m, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("contour fill failed: %w", err)
		}
		if score < pp.cfg.ScoreThreshold {
			continue
		}

		rect := pp.tk.MinAreaRect(c).Normalize().Unclip(pp.cfg.UnclipRatio)
		out = append(out, Detection{
			Box:   ToRelative(rect.Corners(), width, height),
			Score: score,
		})
	}
	return out, nil
}

// Binarize marks every pixel above threshold with 255.
func Binarize(mask []float32, width, height int, threshold float64) *vision.Mask {
	out := vision.NewMask(width, height)
	for i, v := range mask {
		if float64(v) > threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// ContourScore is the mean of the positive mask values inside the filled
// region, searched within [x0,x1) x [y0,y1). An empty region scores 0.
func ContourScore(mask []float32, filled *vision.Mask, x0, y0, x1, y1 int) float64 {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, filled.Width), min(y1, filled.Height)

	var sum float64
	var n int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := y*filled.Width + x
			if filled.Pix[i] == 0 || mask[i] <= 0 {
				continue
			}
			sum += float64(mask[i])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ToRelative divides box coordinates by the mask size and clamps to [0,1].
func ToRelative(box geom.TextBox, width, height int) geom.TextBox {
	return box.Map(func(p geom.Point) geom.Point {
		return geom.Point{
			X: geom.Clamp(p.X/float64(width), 0, 1),
			Y: geom.Clamp(p.Y/float64(height), 0, 1),
		}
	})
}
