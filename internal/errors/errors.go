package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

/**
 * Error taxonomy for the OCR worker
 *
 * Pipeline failures are grouped by where they originate:
 * - configuration (bad model IO properties, bad manifest)
 * - model contract (tensor count, dtype, shape)
 * - runtime (native inference call failed)
 * - internal invariants (batch output count mismatch)
 * - environment (runtime shared library could not be loaded)
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors
	ErrorShapeInvalid       ErrorCode = "SHAPE_INVALID"
	ErrorConfigInvalid      ErrorCode = "CONFIG_INVALID"
	ErrorModelContract      ErrorCode = "MODEL_CONTRACT"
	ErrorInferenceFailed    ErrorCode = "INFERENCE_FAILED"
	ErrorInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	ErrorRuntimeUnavailable ErrorCode = "RUNTIME_UNAVAILABLE"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// PipelineError represents a structured pipeline or processing error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches another PipelineError by code, so errors.Is(err, &PipelineError{Code: X}) works.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Factory functions for common errors

func NewShapeError(shape []int, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:      ErrorShapeInvalid,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"shape": fmt.Sprint(shape),
		},
	}
}

func NewConfigError(format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:      ErrorConfigInvalid,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

func NewModelContractError(modelPath string, expected, actual []int64, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:      ErrorModelContract,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model_path":     modelPath,
			"expected_shape": fmt.Sprint(expected),
			"actual_shape":   fmt.Sprint(actual),
		},
	}
}

func NewInferenceError(modelPath string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorInferenceFailed,
		Message:   fmt.Sprintf("inference failed for model %s", modelPath),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model_path": modelPath,
		},
		Cause: cause,
	}
}

func NewInvariantError(format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvariantViolation,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// NewRuntimeUnavailableError wraps a shared library load failure and attaches
// a remediation hint for the current platform.
func NewRuntimeUnavailableError(libPath string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorRuntimeUnavailable,
		Message:   fmt.Sprintf("ONNX Runtime library could not be loaded from %q: %s", libPath, RuntimeHint(runtime.GOOS)),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"library_path": libPath,
			"os":           runtime.GOOS,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(jobID string, engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed with engine: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ocr_engine": engine,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *PipelineError {
	return &PipelineError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// CodeOf returns the code of the first PipelineError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

var fatalCodes = []ErrorCode{
	ErrorInvariantViolation,
	ErrorModelContract,
	ErrorConfigInvalid,
	ErrorShapeInvalid,
	ErrorUnsupportedFormat,
}

// IsFatal reports whether retrying err can never succeed. Any fatal
// PipelineError in the chain makes the whole error fatal, so an OCR failure
// caused by an invariant violation is not retried either.
func IsFatal(err error) bool {
	for _, code := range fatalCodes {
		if stderrors.Is(err, &PipelineError{Code: code}) {
			return true
		}
	}
	return false
}

// IsLibraryLoadFailure sniffs loader messages produced by dlopen/LoadLibrary.
func IsLibraryLoadFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"cannot open shared object",
		"error loading onnxruntime",
		"loadlibrary",
		"the specified module could not be found",
		"image not found",
		"library not loaded",
		".dll",
		".dylib",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RuntimeHint returns the remediation text for a failed runtime library load.
func RuntimeHint(goos string) string {
	switch goos {
	case "windows":
		return "install the latest Microsoft Visual C++ Redistributable and make sure onnxruntime.dll is next to the executable or on PATH"
	case "darwin":
		return "install onnxruntime (e.g. brew install onnxruntime) and set ONNXRUNTIME_LIB_PATH to libonnxruntime.dylib"
	default:
		return "install the onnxruntime shared library and set ONNXRUNTIME_LIB_PATH to libonnxruntime.so"
	}
}

// ToMap converts error to map for database storage
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
