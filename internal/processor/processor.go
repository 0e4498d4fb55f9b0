/**
 * Document Processor for the OCR Worker
 *
 * Orchestrates one OCR job:
 * - load the file from the job payload or its URL
 * - detect the image format from magic bytes and decode the page
 * - run the configured OCR engine, falling back to Tesseract on failure
 * - persist page records and mark the job completed
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine      OCREngine
	Fallback    OCREngine // optional, used when Engine fails with a retryable error
	Store       ResultStore
	MaxFileSize int64
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config   *ProcessorConfig
	engine   OCREngine
	fallback OCREngine
	store    ResultStore
	client   *http.Client
	logger   *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("processor")
	}

	return &DocumentProcessor{
		config:   cfg,
		engine:   cfg.Engine,
		fallback: cfg.Fallback,
		store:    cfg.Store,
		client:   client,
		logger:   logger,
	}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	p.logger.Info("Starting OCR pipeline", "job", req.JobID, "filename", req.Filename)

	// Step 1: Download/load file
	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	// Step 2: Detect actual MIME type from magic bytes
	if detected := detectMimeTypeFromMagicBytes(fileData); detected != "" && detected != req.MimeType {
		p.logger.Debug("Corrected MIME type", "job", req.JobID, "from", req.MimeType, "to", detected)
		req.MimeType = detected
	}

	// Step 3: Decode page image
	page, err := decodeImage(req.JobID, fileData, req.MimeType)
	if err != nil {
		return nil, err
	}
	b := page.Bounds()
	p.logger.Info("Page decoded", "job", req.JobID, "mime", req.MimeType, "width", b.Dx(), "height", b.Dy())

	// Step 4: OCR
	pages, engineUsed, err := p.runOCR(ctx, req.JobID, []image.Image{page})
	if err != nil {
		return nil, err
	}

	confidence := meanConfidence(pages)
	p.logger.Debug("OCR finished", "job", req.JobID, "engine", engineUsed, "records", countRecords(pages))
	elapsed := time.Since(start).Milliseconds()

	// Step 5: Persist records and complete the job
	out, err := p.store.StoreResult(ctx, &storage.ResultInput{
		JobID:            req.JobID,
		Pages:            pages,
		Engine:           engineUsed,
		Confidence:       confidence,
		ProcessingTimeMs: elapsed,
		Metadata: map[string]interface{}{
			"filename": req.Filename,
			"mimeType": req.MimeType,
			"userId":   req.UserID,
		},
	})
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	p.logger.Info("OCR pipeline complete",
		"job", req.JobID,
		"engine", engineUsed,
		"pages", out.PageCount,
		"records", out.RecordCount,
		"confidence", confidence,
		"duration_ms", elapsed)

	return &ProcessResult{
		Pages:            out.PageCount,
		Records:          out.RecordCount,
		Confidence:       confidence,
		EngineUsed:       engineUsed,
		ProcessingTimeMs: elapsed,
	}, nil
}

// runOCR runs the primary engine and, if it fails with a retryable error,
// the fallback engine.
func (p *DocumentProcessor) runOCR(ctx context.Context, jobID string, pages []image.Image) (map[int][]ocr.RecognizedTextRecord, string, error) {
	records, err := p.engine.ProcessPages(ctx, pages)
	if err == nil {
		return records, p.engine.Name(), nil
	}
	primaryErr := errors.NewOCRFailedError(jobID, p.engine.Name(), err)

	if p.fallback == nil || errors.IsFatal(err) || ctx.Err() != nil {
		return nil, "", primaryErr
	}

	p.logger.Warn("Primary OCR engine failed, falling back",
		"job", jobID, "engine", p.engine.Name(), "fallback", p.fallback.Name(), "error", err)
	records, err = p.fallback.ProcessPages(ctx, pages)
	if err != nil {
		return nil, "", errors.NewOCRFailedError(jobID, p.fallback.Name(), err)
	}
	return records, p.fallback.Name(), nil
}

// UpdateJobStatus updates job status in the database
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["progress"] = progress

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if code, ok := metadata["errorCode"].(string); ok {
		update.ErrorCode = code
	}
	if errorMsg, ok := metadata["error"].(string); ok {
		if update.ErrorCode == "" {
			update.ErrorCode = "PROCESSING_ERROR"
		}
		update.ErrorMessage = errorMsg
	}

	return p.store.UpdateJobStatus(ctx, update)
}

func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	var data []byte
	switch {
	case len(req.FileBuffer) > 0:
		data = req.FileBuffer
	case req.FileURL != "":
		p.logger.Info("Downloading file", "job", req.JobID, "url", req.FileURL, "size", req.FileSize)
		downloaded, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download file: %w", err)
		}
		data = downloaded
	default:
		return nil, fmt.Errorf("no file source provided (buffer or URL)")
	}

	if p.config.MaxFileSize > 0 && int64(len(data)) > p.config.MaxFileSize {
		return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", len(data), p.config.MaxFileSize)
	}
	return data, nil
}

func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	const (
		maxRetries       = 5
		initialBackoffMs = 1000
		maxBackoffMs     = 32000
	)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, retry, err := p.fetch(ctx, fileURL)
		if err == nil {
			p.logger.Debug("Download successful", "job", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		p.logger.Warn("Download attempt failed", "job", jobID, "attempt", attempt, "error", err)
		if !retry || attempt == maxRetries {
			break
		}

		backoffMs := min(initialBackoffMs*int(math.Pow(2, float64(attempt-1))), maxBackoffMs)
		select {
		case <-time.After(time.Duration(backoffMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

// fetch performs one GET. retry reports whether the failure is transient.
func (p *DocumentProcessor) fetch(ctx context.Context, fileURL string) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, transient, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	limit := p.config.MaxFileSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, limit)
	}
	if limit <= 0 {
		limit = 10 * 1024 * 1024 * 1024 // 10GB safety limit
	}

	// Read one byte past the limit so oversized bodies are detected by loadFile.
	data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

var decoders = map[string]func(io.Reader) (image.Image, error){
	"image/png":  png.Decode,
	"image/jpeg": jpeg.Decode,
	"image/tiff": tiff.Decode,
	"image/bmp":  bmp.Decode,
}

// decodeImage decodes a single page image of a supported raster format.
// Multi-page TIFFs yield their first page.
func decodeImage(jobID string, data []byte, mimeType string) (image.Image, error) {
	decode, ok := decoders[mimeType]
	if !ok {
		return nil, errors.NewUnsupportedFormatError(jobID, mimeType)
	}
	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}
	return img, nil
}

func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	return ""
}
