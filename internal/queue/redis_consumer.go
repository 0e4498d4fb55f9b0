/**
 * Direct Redis Queue Consumer for the OCR Worker
 *
 * Uses plain Redis LIST and HASH operations so producers in any language
 * can enqueue jobs:
 * - <queue>            list of job IDs, LPUSH to enqueue
 * - <queue>:data       hash of job ID -> job JSON
 * - <queue>:processing / :completed / :failed   sets of job IDs
 * - <queue>:results / :errors                   hashes of job ID -> JSON
 * - <queue>:events     pub/sub channel of status events
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

const (
	defaultRedisQueue = "ocr:jobs"
	defaultMaxRetries = 3
	pollTimeout       = 5 * time.Second
)

// RedisJob is the job envelope stored in <queue>:data
type RedisJob struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from a Redis list
type RedisConsumer struct {
	client *redis.Client
	runner *runner
	config *RedisConsumerConfig
	logger *logging.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds
	Logger            *logging.Logger
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(ctx context.Context, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaultRedisQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("redis-consumer")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisConsumer{
		client: client,
		runner: newRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		logger: logger,
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return c.config.QueueName + ":" + suffix
}

// Start launches the worker pool. Workers stop when ctx is cancelled or
// Stop is called.
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "backend", "redis", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	ctx, c.cancel = context.WithCancel(ctx)
	c.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < c.config.Concurrency; i++ {
		c.group.Go(func() error {
			c.worker(ctx, i)
			return nil
		})
	}
	return nil
}

// Stop stops polling and waits for in-flight jobs to finish.
func (c *RedisConsumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	if c.cancel != nil {
		c.cancel()
		c.group.Wait()
	}
	return c.client.Close()
}

func (c *RedisConsumer) worker(ctx context.Context, id int) {
	c.logger.Debug("Worker started", "worker", id)
	for ctx.Err() == nil {
		if _, err := c.processNextJob(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Worker error", "worker", id, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
	c.logger.Debug("Worker stopping", "worker", id)
}

// Enqueue stores the job envelope and pushes its ID onto the queue.
func (c *RedisConsumer) Enqueue(ctx context.Context, payload *JobPayload, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	job := RedisJob{
		ID:         uuid.NewString(),
		Type:       TaskTypeProcess,
		Payload:    *payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, data)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

// processNextJob waits briefly for one job and processes it. It reports
// whether a job was taken.
func (c *RedisConsumer) processNextJob(ctx context.Context) (bool, error) {
	result, err := c.client.BRPop(ctx, pollTimeout, c.config.QueueName).Result()
	if stderrors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("invalid job result")
	}
	id := result[1]

	// A popped job runs to completion even when the worker is stopping;
	// Stop waits for it.
	jobCtx := context.WithoutCancel(ctx)

	raw, err := c.client.HGet(jobCtx, c.key("data"), id).Result()
	if err != nil {
		return true, fmt.Errorf("failed to get job data for %s: %w", id, err)
	}
	var job RedisJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.markFailed(jobCtx, id, map[string]interface{}{"error": err.Error(), "errorCode": "INVALID_PAYLOAD"})
		return true, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	c.client.SAdd(jobCtx, c.key("processing"), id)
	c.publish(jobCtx, id, storage.StatusProcessing)

	res, err := c.runner.run(jobCtx, &job.Payload)
	if err == nil {
		c.markCompleted(jobCtx, id, res)
		return true, nil
	}

	job.Attempts++
	if !errors.IsFatal(err) && job.Attempts < job.MaxRetries {
		c.requeue(jobCtx, &job)
		c.logger.Info("Job re-queued for retry", "job", job.Payload.JobID, "attempt", job.Attempts, "max_retries", job.MaxRetries)
		return true, nil
	}
	meta := failureMetadata(err, 0)
	delete(meta, "processingTime")
	meta["attempts"] = job.Attempts
	c.markFailed(jobCtx, id, meta)
	return true, nil
}

func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJob) {
	data, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for retry", "job", job.ID, "error", err)
		return
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, data)
		pipe.SRem(ctx, c.key("processing"), job.ID)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to re-queue job", "job", job.ID, "error", err)
	}
}

func (c *RedisConsumer) markCompleted(ctx context.Context, id string, res *processor.ProcessResult) {
	data, _ := json.Marshal(res)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.key("processing"), id)
		pipe.SAdd(ctx, c.key("completed"), id)
		pipe.HSet(ctx, c.key("results"), id, data)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to mark job completed in Redis", "job", id, "error", err)
	}
	c.publish(ctx, id, storage.StatusCompleted)
}

func (c *RedisConsumer) markFailed(ctx context.Context, id string, meta map[string]interface{}) {
	data, _ := json.Marshal(meta)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.key("processing"), id)
		pipe.SAdd(ctx, c.key("failed"), id)
		pipe.HSet(ctx, c.key("errors"), id, data)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to mark job failed in Redis", "job", id, "error", err)
	}
	c.publish(ctx, id, storage.StatusFailed)
}

// publish emits a status event for live progress subscribers
func (c *RedisConsumer) publish(ctx context.Context, id, status string) {
	event, _ := json.Marshal(map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     id,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err := c.client.Publish(ctx, c.key("events"), event).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "job", id, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
