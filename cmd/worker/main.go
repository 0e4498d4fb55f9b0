/**
 * OCR Worker - Main Entry Point
 *
 * Go worker that turns page images into positioned text records.
 *
 * Architecture:
 * - Redis list or Asynq consumer for the job queue
 * - ONNX model pipeline: detection, orientation, recognition, split/merge
 * - Tesseract engine as fallback when the model pipeline fails
 * - PostgreSQL persistence for job status and recognized text
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
	"github.com/adverant/nexus/ocr-worker/internal/vision/gocvtk"
)

// consumer is implemented by both queue backends
type consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	logger := logging.NewLogger("worker")

	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Warn("Failed to read .env, using process environment", "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Warn("Invalid log level, keeping default", "level", cfg.LogLevel, "error", err)
	}
	logger = logging.NewLogger("worker")

	logger.Info("OCR worker starting",
		"engine", cfg.OCREngine,
		"queue_backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Step 1: Storage
	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		os.Exit(1)
	}
	defer storageManager.Close()

	// Step 2: OCR engines
	tesseract := processor.NewTesseractOCR(&processor.TesseractConfig{
		Languages:   cfg.TesseractLanguages,
		OutputScale: cfg.OutputScale,
	})
	var primary processor.OCREngine = tesseract
	var fallback processor.OCREngine
	if cfg.OCREngine == config.EngineOnnx {
		engine, err := newOnnxEngine(cfg, logger)
		if err != nil {
			logger.Warn("Model pipeline unavailable, using Tesseract only", "error", err)
		} else {
			defer inference.ShutdownRuntime()
			defer engine.Close()
			primary, fallback = engine, tesseract
		}
	}

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Engine:      primary,
		Fallback:    fallback,
		Store:       storageManager,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logging.NewLogger("processor"),
	})
	if err != nil {
		logger.Error("Failed to initialize document processor", "error", err)
		os.Exit(1)
	}

	// Step 3: Queue
	queueConsumer, err := newConsumer(ctx, cfg, proc)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}
	if err := queueConsumer.Start(ctx); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("OCR worker ready", "engine", primary.Name())

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining jobs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := queueConsumer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	logger.Info("Shutdown complete")
}

func newOnnxEngine(cfg *config.Config, logger *logging.Logger) (*processor.OnnxEngine, error) {
	if err := inference.InitRuntime(cfg.OnnxRuntimeLibPath); err != nil {
		if errors.CodeOf(err) == errors.ErrorRuntimeUnavailable {
			logger.Error("ONNX Runtime library could not be loaded", "hint", errors.RuntimeHint(runtime.GOOS))
		}
		return nil, err
	}

	manifest, err := config.LoadManifest(cfg.ModelManifest)
	if err != nil {
		inference.ShutdownRuntime()
		return nil, err
	}
	engine, err := processor.NewOnnxEngine(manifest, processor.LoadOnnx, gocvtk.New(),
		cfg.OutputScale, logging.NewLogger("onnx-engine"))
	if err != nil {
		inference.ShutdownRuntime()
		return nil, err
	}
	return engine, nil
}

func newConsumer(ctx context.Context, cfg *config.Config, proc processor.DocumentProcessorInterface) (consumer, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			Logger:            logging.NewLogger("asynq-consumer"),
		})
	}
	return queue.NewRedisConsumer(ctx, &queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		Logger:            logging.NewLogger("redis-consumer"),
	})
}
