/**
 * Job payloads and the shared job runner
 *
 * Both queue backends decode the same payload and drive a job through the
 * same steps: mark processing, run OCR under a deadline, record failures.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// DefaultProcessingTimeout applies when no per-job timeout is configured.
const DefaultProcessingTimeout = 5 * time.Minute

// JobPayload contains the OCR job data
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId"`
	Filename   string                 `json:"filename"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts fileBuffer as a base64 string or as a Node.js
// Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*alias
	}{
		alias: (*alias)(p),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded
	case map[string]interface{}:
		if kind, _ := v["type"].(string); kind != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		values, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(values))
		for i, val := range values {
			b, ok := val.(float64)
			if !ok || b < 0 || b > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(b)
		}
	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}
	return nil
}

// MarshalJSON writes fileBuffer as base64.
func (p JobPayload) MarshalJSON() ([]byte, error) {
	type alias JobPayload
	return json.Marshal(&struct {
		FileBuffer []byte `json:"fileBuffer,omitempty"`
		alias
	}{
		FileBuffer: p.FileBuffer,
		alias:      alias(p),
	})
}

func (p *JobPayload) request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		UserID:     p.UserID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileSize:   p.FileSize,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Metadata:   p.Metadata,
	}
}

// runner executes one job against the document processor.
type runner struct {
	processor processor.DocumentProcessorInterface
	timeout   time.Duration
	logger    *logging.Logger
}

func newRunner(p processor.DocumentProcessorInterface, timeoutMs int64, logger *logging.Logger) *runner {
	timeout := DefaultProcessingTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &runner{processor: p, timeout: timeout, logger: logger}
}

// run processes the job under the configured deadline. Failures are
// recorded on the job before being returned; the completed status is
// written by the processor together with the records.
func (r *runner) run(ctx context.Context, job *JobPayload) (*processor.ProcessResult, error) {
	start := time.Now()

	if err := r.processor.UpdateJobStatus(ctx, job.JobID, storage.StatusProcessing, 0, map[string]interface{}{
		"filename": job.Filename,
		"mimeType": job.MimeType,
		"fileSize": job.FileSize,
		"userId":   job.UserID,
	}); err != nil {
		r.logger.Warn("Failed to mark job processing", "job", job.JobID, "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.processor.ProcessDocument(processCtx, job.request())
	duration := time.Since(start)
	if err == nil {
		r.logger.Info("Job completed",
			"job", job.JobID,
			"engine", result.EngineUsed,
			"records", result.Records,
			"confidence", result.Confidence,
			"duration_ms", duration.Milliseconds())
		return result, nil
	}

	if stderrors.Is(processCtx.Err(), context.DeadlineExceeded) {
		err = errors.NewProcessingTimeoutError(job.JobID, r.timeout, err)
	}
	r.logger.Error("Job failed", "job", job.JobID, "duration_ms", duration.Milliseconds(), "fatal", errors.IsFatal(err), "error", err)

	// The job context may already be done; the status write gets its own budget.
	statusCtx, cancelStatus := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelStatus()
	if updateErr := r.processor.UpdateJobStatus(statusCtx, job.JobID, storage.StatusFailed, 100, failureMetadata(err, duration)); updateErr != nil {
		r.logger.Warn("Failed to mark job failed", "job", job.JobID, "error", updateErr)
	}
	return nil, err
}

// failureMetadata is the job metadata recorded for a failed attempt.
func failureMetadata(err error, duration time.Duration) map[string]interface{} {
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "PROCESSING_ERROR"
	}
	return map[string]interface{}{
		"errorCode":      code,
		"error":          err.Error(),
		"fatal":          errors.IsFatal(err),
		"processingTime": duration.Milliseconds(),
	}
}
