/**
 * Configuration for the OCR Worker
 *
 * Loads configuration from environment variables (optionally seeded from a
 * .env file) and the YAML model manifest it points at.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// Queue backends
const (
	QueueBackendAsynq = "asynq"
	QueueBackendRedis = "redis"
)

// OCR engines
const (
	EngineOnnx      = "onnx"
	EngineTesseract = "tesseract"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Queue configuration
	QueueBackend string
	QueueName    string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	// OCR configuration
	OCREngine          string
	ModelManifest      string
	OnnxRuntimeLibPath string
	TesseractLanguages []string
	OutputScale        float64

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadEnvFile seeds the process environment from path if it exists.
// Variables already set are not overridden.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return godotenv.Load(path)
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		QueueBackend:       getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "ocr:jobs"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 104857600), // 100MB
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		OCREngine:          getEnvOrDefault("OCR_ENGINE", EngineOnnx),
		ModelManifest:      getEnvOrDefault("MODEL_MANIFEST", "/models/manifest.yaml"),
		OnnxRuntimeLibPath: getEnvOrDefault("ONNXRUNTIME_LIB_PATH", ""),
		TesseractLanguages: splitList(getEnvOrDefault("TESSERACT_LANGUAGES", "eng")),
		OutputScale:        getEnvAsFloatOrDefault("OUTPUT_SCALE", ocr.DefaultOutputScale),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "json"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return errors.NewConfigError("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return errors.NewConfigError("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendAsynq && c.QueueBackend != QueueBackendRedis {
		return errors.NewConfigError("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendAsynq, QueueBackendRedis, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return errors.NewConfigError("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return errors.NewConfigError("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout <= 0 {
		return errors.NewConfigError("PROCESSING_TIMEOUT must be positive, got %d", c.ProcessingTimeout)
	}

	switch c.OCREngine {
	case EngineOnnx:
		if c.ModelManifest == "" {
			return errors.NewConfigError("MODEL_MANIFEST is required when OCR_ENGINE=%s", EngineOnnx)
		}
	case EngineTesseract:
	default:
		return errors.NewConfigError("OCR_ENGINE must be %q or %q, got %q", EngineOnnx, EngineTesseract, c.OCREngine)
	}

	if c.OutputScale <= 0 {
		return errors.NewConfigError("OUTPUT_SCALE must be positive, got %g", c.OutputScale)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// splitList parses "eng+deu" or "eng,deu".
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
