package ocr

import "github.com/adverant/nexus/ocr-worker/internal/geom"

// DefaultOutputScale converts 300 dpi pixels to PDF points.
const DefaultOutputScale = 72.0 / 300.0

// RecognizedTextRecord is one decoded text box of a page.
type RecognizedTextRecord struct {
	Text string `json:"text"`
	// Box is in page coordinates: bottom-left origin, scaled by the
	// output scale.
	Box geom.TextBox `json:"box"`
	// PixelBox is the same polygon in source image pixels.
	PixelBox       geom.TextBox     `json:"pixel_box"`
	Orientation    geom.Orientation `json:"orientation"`
	DetectionScore float64          `json:"detection_score"`
	Confidence     float64          `json:"confidence"`
}

// ToPageBox flips a pixel-space box into bottom-left-origin page
// coordinates: x' = scale*x, y' = scale*(imageHeight - y). The lowest page
// Y of the result is scale*(imageHeight - maxY).
func ToPageBox(box geom.TextBox, imageHeight int, scale float64) geom.TextBox {
	return box.Map(func(p geom.Point) geom.Point {
		return geom.Point{X: scale * p.X, Y: scale * (float64(imageHeight) - p.Y)}
	})
}
