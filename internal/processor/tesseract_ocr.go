/**
 * Tesseract OCR - Fallback engine for offline processing
 *
 * Produces the same page records as the model pipeline from Tesseract
 * text-line boxes. Used when OCR_ENGINE=tesseract, when the model manifest
 * cannot be loaded, or when the model pipeline fails on a job.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// TesseractOCR handles OCR using Tesseract
type TesseractOCR struct {
	languages   []string
	outputScale float64
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages   []string
	OutputScale float64
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.OutputScale == 0 {
		cfg.OutputScale = ocr.DefaultOutputScale
	}

	return &TesseractOCR{
		languages:   cfg.Languages,
		outputScale: cfg.OutputScale,
	}
}

// Name identifies the engine in job results
func (t *TesseractOCR) Name() string { return "tesseract" }

// ProcessPages performs OCR on every page using Tesseract
func (t *TesseractOCR) ProcessPages(ctx context.Context, pages []image.Image) (map[int][]ocr.RecognizedTextRecord, error) {
	// Create Tesseract client
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}

	out := make(map[int][]ocr.RecognizedTextRecord, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to set image: %w", err)
		}

		lines, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
		if err != nil {
			return nil, fmt.Errorf("tesseract OCR failed on page %d: %w", i+1, err)
		}
		out[i+1] = linesToRecords(lines, page.Bounds(), t.outputScale)
	}
	return out, nil
}

// linesToRecords converts Tesseract text lines into records. Empty lines are
// skipped; boxes are made relative to the page origin.
func linesToRecords(lines []gosseract.BoundingBox, bounds image.Rectangle, scale float64) []ocr.RecognizedTextRecord {
	records := make([]ocr.RecognizedTextRecord, 0, len(lines))
	for _, line := range lines {
		text := strings.TrimSpace(line.Word)
		if text == "" {
			continue
		}
		box := rectToBox(line.Box.Sub(bounds.Min))
		conf := line.Confidence / 100
		records = append(records, ocr.RecognizedTextRecord{
			Text:           text,
			Box:            ocr.ToPageBox(box, bounds.Dy(), scale),
			PixelBox:       box,
			Orientation:    geom.Deg0,
			DetectionScore: conf,
			Confidence:     conf,
		})
	}
	return records
}

func rectToBox(r image.Rectangle) geom.TextBox {
	x0, y0 := float64(r.Min.X), float64(r.Min.Y)
	x1, y1 := float64(r.Max.X), float64(r.Max.Y)
	return geom.TextBox{
		geom.BottomLeft:  {X: x0, Y: y1},
		geom.TopLeft:     {X: x0, Y: y0},
		geom.TopRight:    {X: x1, Y: y0},
		geom.BottomRight: {X: x1, Y: y1},
	}
}
