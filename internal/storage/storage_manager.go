/**
 * Storage Manager for the OCR Worker
 *
 * Coordinates writes of recognized text records and job status so a job is
 * only marked completed once its records are in place.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// Job statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// recordStore is the persistence surface StorageManager needs.
// *PostgresClient implements it.
type recordStore interface {
	StoreRecords(ctx context.Context, jobID string, pages map[int][]ocr.RecognizedTextRecord) (int, error)
	DeleteRecords(ctx context.Context, jobID string) error
	GetRecords(ctx context.Context, jobID string) (map[int][]ocr.RecognizedTextRecord, error)
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	Ping(ctx context.Context) error
	GetStats() sql.DBStats
	Close() error
}

var _ recordStore = (*PostgresClient)(nil)

// StorageManager coordinates record and job persistence
type StorageManager struct {
	postgres recordStore
}

// ResultInput represents a finished OCR run to persist
type ResultInput struct {
	JobID            string
	Pages            map[int][]ocr.RecognizedTextRecord
	Engine           string
	Confidence       float64
	ProcessingTimeMs int64
	Metadata         map[string]interface{}
}

// ResultOutput summarizes what was stored
type ResultOutput struct {
	JobID       string
	PageCount   int
	RecordCount int
	StoredAt    time.Time
}

// NewStorageManager connects to PostgreSQL and makes sure the schema exists
func NewStorageManager(postgresURL string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close() // Cleanup on failure
		return nil, err
	}

	return &StorageManager{postgres: postgres}, nil
}

// StoreResult writes the records of a job and then marks it completed. If
// the status update fails the records are removed again.
func (sm *StorageManager) StoreResult(ctx context.Context, input *ResultInput) (*ResultOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	// Step 1: Store records (single transaction)
	n, err := sm.postgres.StoreRecords(ctx, input.JobID, sanitizeRecords(input.Pages))
	if err != nil {
		return nil, fmt.Errorf("failed to store records: %w", err)
	}

	// Step 2: Mark job completed
	update := &JobUpdate{
		JobID:            input.JobID,
		Status:           StatusCompleted,
		Confidence:       input.Confidence,
		ProcessingTimeMs: input.ProcessingTimeMs,
		PageCount:        len(input.Pages),
		RecordCount:      n,
		Engine:           input.Engine,
		Metadata:         input.Metadata,
	}
	if err := sm.postgres.UpdateJobStatus(ctx, update); err != nil {
		// Rollback: Delete records
		err = fmt.Errorf("failed to complete job: %w", err)
		if delErr := sm.postgres.DeleteRecords(context.WithoutCancel(ctx), input.JobID); delErr != nil {
			return nil, errors.Join(err, fmt.Errorf("rollback left records behind: %w", delErr))
		}
		return nil, err
	}

	return &ResultOutput{
		JobID:       input.JobID,
		PageCount:   len(input.Pages),
		RecordCount: n,
		StoredAt:    time.Now(),
	}, nil
}

// GetRecords retrieves the stored records of a job
func (sm *StorageManager) GetRecords(ctx context.Context, jobID string) (map[int][]ocr.RecognizedTextRecord, error) {
	return sm.postgres.GetRecords(ctx, jobID)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// Ping checks database connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns connection pool statistics
func (sm *StorageManager) GetStats() map[string]interface{} {
	pgStats := sm.postgres.GetStats()

	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	if sm.postgres == nil {
		return nil
	}
	if err := sm.postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}
	return nil
}

var controlChars = regexp.MustCompile(`[\x01-\x08\x0B\x0C\x0E-\x1F]`)

// sanitizeText makes decoded text safe for a PostgreSQL TEXT column: NUL is
// rejected by the server, other control characters become spaces.
func sanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return controlChars.ReplaceAllString(s, " ")
}

func sanitizeRecords(pages map[int][]ocr.RecognizedTextRecord) map[int][]ocr.RecognizedTextRecord {
	out := make(map[int][]ocr.RecognizedTextRecord, len(pages))
	for page, recs := range pages {
		clean := make([]ocr.RecognizedTextRecord, len(recs))
		for i, rec := range recs {
			rec.Text = sanitizeText(rec.Text)
			clean[i] = rec
		}
		out[page] = clean
	}
	return out
}
