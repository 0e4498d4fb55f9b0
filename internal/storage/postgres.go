/**
 * PostgreSQL Client for the OCR Worker
 *
 * Handles database operations for job persistence and recognized text records.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Confidence       float64
	ProcessingTimeMs int64
	PageCount        int
	RecordCount      int
	Engine           string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS ocr;

	CREATE TABLE IF NOT EXISTS ocr.jobs (
		id                 UUID PRIMARY KEY,
		status             TEXT NOT NULL,
		confidence         NUMERIC(5,4),
		processing_time_ms BIGINT,
		page_count         INTEGER,
		record_count       INTEGER,
		engine             TEXT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ocr.recognized_text (
		id              UUID PRIMARY KEY,
		job_id          UUID NOT NULL,
		page            INTEGER NOT NULL,
		ordinal         INTEGER NOT NULL,
		text            TEXT NOT NULL,
		page_box        DOUBLE PRECISION[] NOT NULL,
		pixel_box       DOUBLE PRECISION[] NOT NULL,
		orientation     INTEGER NOT NULL,
		detection_score DOUBLE PRECISION,
		confidence      DOUBLE PRECISION,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (job_id, page, ordinal)
	);
`

// sanitizeConfidence clamps confidence to [0, 1] and rounds it to 4 decimal
// places to fit NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if math.IsNaN(confidence) || confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return math.Round(confidence*10000) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the ocr schema and tables if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidence := sanitizeConfidence(update.Confidence)

	// Convert metadata to JSONB
	metadata := update.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ocr.jobs (
			id, status, confidence, processing_time_ms, page_count, record_count,
			engine, error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3::NUMERIC(5,4), 0), NULLIF($4, 0), NULLIF($5, 0), NULLIF($6, 0),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			confidence = COALESCE(EXCLUDED.confidence, ocr.jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocr.jobs.processing_time_ms),
			page_count = COALESCE(EXCLUDED.page_count, ocr.jobs.page_count),
			record_count = COALESCE(EXCLUDED.record_count, ocr.jobs.record_count),
			engine = COALESCE(EXCLUDED.engine, ocr.jobs.engine),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocr.jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		update.JobID,            // $1
		update.Status,           // $2
		confidence,              // $3
		update.ProcessingTimeMs, // $4
		update.PageCount,        // $5
		update.RecordCount,      // $6
		update.Engine,           // $7
		update.ErrorCode,        // $8
		update.ErrorMessage,     // $9
		metadataJSON,            // $10
	)
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreRecords replaces the records of a job in one transaction and returns
// how many were written.
func (p *PostgresClient) StoreRecords(ctx context.Context, jobID string, pages map[int][]ocr.RecognizedTextRecord) (n int, err error) {
	if jobID == "" {
		return 0, fmt.Errorf("job ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM ocr.recognized_text WHERE job_id = $1::uuid`, jobID); err != nil {
		return 0, fmt.Errorf("failed to clear previous records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ocr.recognized_text (
			id, job_id, page, ordinal, text, page_box, pixel_box,
			orientation, detection_score, confidence
		) VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, page := range sortedPages(pages) {
		for i, rec := range pages[page] {
			_, err = stmt.ExecContext(ctx,
				uuid.New().String(),
				jobID,
				page,
				i,
				rec.Text,
				pq.Array(FlattenBox(rec.Box)),
				pq.Array(FlattenBox(rec.PixelBox)),
				int(rec.Orientation),
				rec.DetectionScore,
				rec.Confidence,
			)
			if err != nil {
				return 0, fmt.Errorf("failed to insert record (page=%d, ordinal=%d): %w", page, i, err)
			}
			n++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit records: %w", err)
	}
	return n, nil
}

// DeleteRecords removes every record of a job.
func (p *PostgresClient) DeleteRecords(ctx context.Context, jobID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM ocr.recognized_text WHERE job_id = $1::uuid`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// GetRecords loads the records of a job keyed by page.
func (p *PostgresClient) GetRecords(ctx context.Context, jobID string) (map[int][]ocr.RecognizedTextRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT page, text, page_box, pixel_box, orientation, detection_score, confidence
		FROM ocr.recognized_text
		WHERE job_id = $1::uuid
		ORDER BY page, ordinal
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := map[int][]ocr.RecognizedTextRecord{}
	for rows.Next() {
		var (
			page                 int
			rec                  ocr.RecognizedTextRecord
			pageBox, pixelBox    pq.Float64Array
			orientation          int
			detScore, recConfScr sql.NullFloat64
		)
		if err := rows.Scan(&page, &rec.Text, &pageBox, &pixelBox, &orientation, &detScore, &recConfScr); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if rec.Box, err = UnflattenBox(pageBox); err != nil {
			return nil, err
		}
		if rec.PixelBox, err = UnflattenBox(pixelBox); err != nil {
			return nil, err
		}
		rec.Orientation = geom.Orientation(orientation)
		rec.DetectionScore = detScore.Float64
		rec.Confidence = recConfScr.Float64
		out[page] = append(out[page], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	query := `
		SELECT id, status, confidence, processing_time_ms, page_count, record_count,
		       engine, error_code, error_message, created_at, updated_at
		FROM ocr.jobs
		WHERE id = $1::uuid
	`

	var (
		id, status                  string
		confidence                  sql.NullFloat64
		processingTimeMs            sql.NullInt64
		pageCount, recordCount      sql.NullInt64
		engine, errorCode, errorMsg sql.NullString
		createdAt, updatedAt        time.Time
	)
	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &status, &confidence, &processingTimeMs, &pageCount, &recordCount,
		&engine, &errorCode, &errorMsg, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	result := map[string]interface{}{
		"id":        id,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
	}
	if confidence.Valid {
		result["confidence"] = confidence.Float64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if pageCount.Valid {
		result["pageCount"] = pageCount.Int64
	}
	if recordCount.Valid {
		result["recordCount"] = recordCount.Int64
	}
	if engine.Valid {
		result["engine"] = engine.String
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMsg.Valid {
		result["errorMessage"] = errorMsg.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
