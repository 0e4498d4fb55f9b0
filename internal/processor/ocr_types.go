/**
 * OCR Types - Shared data structures for document processing
 *
 * Common types used by the ONNX pipeline engine and the Tesseract fallback
 */

package processor

import (
	"context"
	"image"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// OCREngine turns page images into page-indexed text records
type OCREngine interface {
	Name() string
	ProcessPages(ctx context.Context, pages []image.Image) (map[int][]ocr.RecognizedTextRecord, error)
}

// ResultStore persists results and job status
type ResultStore interface {
	StoreResult(ctx context.Context, input *storage.ResultInput) (*storage.ResultOutput, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	Pages            int
	Records          int
	Confidence       float64
	EngineUsed       string
	ProcessingTimeMs int64
}

// meanConfidence averages record confidence over every page.
func meanConfidence(pages map[int][]ocr.RecognizedTextRecord) float64 {
	var sum float64
	var n int
	for _, recs := range pages {
		for _, r := range recs {
			sum += r.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func countRecords(pages map[int][]ocr.RecognizedTextRecord) int {
	n := 0
	for _, recs := range pages {
		n += len(recs)
	}
	return n
}
