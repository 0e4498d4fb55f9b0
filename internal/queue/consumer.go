/**
 * Asynq Queue Consumer for the OCR Worker
 *
 * Consumes "ocr:process" tasks through Asynq. Fatal pipeline errors skip
 * Asynq's retry schedule; everything else is retried with backoff.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

// TaskTypeProcess is the Asynq task type carrying a JobPayload.
const TaskTypeProcess = "ocr:process"

// Consumer handles job consumption from an Asynq queue
type Consumer struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *runner
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("asynq-consumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	c := &Consumer{
		client: asynq.NewClient(redisOpt),
		mux:    asynq.NewServeMux(),
		runner: newRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		logger: logger,
	}
	c.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.QueueName: 10,
			"default":     1,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Task processing error", "type", task.Type(), "error", err)
		}),
		Logger: asynqLogger{logger},
	})
	c.mux.HandleFunc(TaskTypeProcess, c.handleProcess)
	return c, nil
}

// retryDelay backs off exponentially from 5s, capped at one minute.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 4 {
		return time.Minute
	}
	return min(time.Duration(5*(1<<uint(n)))*time.Second, time.Minute)
}

// Start runs the Asynq server in the background
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "backend", "asynq", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// Enqueue submits a job to the consumer's queue.
func (c *Consumer) Enqueue(ctx context.Context, job *JobPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	task, err := NewProcessTask(job)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(c.config.QueueName)}, opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

// NewProcessTask wraps a job in an Asynq task.
func NewProcessTask(job *JobPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(TaskTypeProcess, payload, asynq.MaxRetry(3)), nil
}

func (c *Consumer) handleProcess(ctx context.Context, task *asynq.Task) error {
	var job JobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	return taskError(c.runner.run(ctx, &job))
}

// taskError marks fatal failures so Asynq archives them without retrying.
func taskError(_ *processor.ProcessResult, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsFatal(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"backend":     "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// asynqLogger routes Asynq's internal logs into the worker's logger.
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
