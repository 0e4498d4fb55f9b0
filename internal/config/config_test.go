package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/detection"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ocr")
	t.Setenv("TESSERACT_LANGUAGES", "eng+deu, fra")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, EngineOnnx, cfg.OCREngine)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, []string{"eng", "deu", "fra"}, cfg.TesseractLanguages)
	assert.InDelta(t, 0.24, cfg.OutputScale, 1e-9)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}},
		{"bad backend", map[string]string{"QUEUE_BACKEND": "kafka"}},
		{"bad engine", map[string]string{"OCR_ENGINE": "cloud"}},
		{"too many workers", map[string]string{"WORKER_CONCURRENCY": "500"}},
		{"negative scale", map[string]string{"OUTPUT_SCALE": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/ocr")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Equal(t, errors.ErrorConfigInvalid, errors.CodeOf(err))
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OCR_TEST_ENV_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OCR_TEST_ENV_KEY") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("OCR_TEST_ENV_KEY"))
	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

const manifestYAML = `
detection:
  path: det.onnx
  mean: [0.798, 0.785, 0.772]
  std: [0.264, 0.2749, 0.287]
  shape: [2, 3, 1024, 1024]
  output_shape: [-1, 1, 1024, 1024]
recognition:
  path: /opt/models/rec.onnx
  mean: [0.694, 0.695, 0.693]
  std: [0.299, 0.296, 0.301]
  shape: [64, 3, 32, 128]
  output_shape: [-1, 32, 127]
  threads: 2
vocabulary: french
decoding: eos
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML), "/srv/models")
	require.NoError(t, err)

	assert.Equal(t, "/srv/models/det.onnx", m.Detection.Path)
	assert.Equal(t, "/opt/models/rec.onnx", m.Recognition.Path)
	assert.Nil(t, m.Orientation)
	assert.Equal(t, detection.DefaultConfig(), m.Thresholds)
	assert.Equal(t, ocr.DefaultSplitConfig(), m.Split)
	assert.Equal(t, recognition.StrategyEOS, m.Decoding)

	props, err := m.Recognition.Properties()
	require.NoError(t, err)
	spec := m.Recognition.Spec(props)
	assert.Equal(t, []int64{-1, 3, 32, 128}, spec.InputShape)
	assert.Equal(t, 64, spec.BatchSize)
	assert.Equal(t, 2, spec.Threads)
}

func TestParseManifestPartialBlocksKeepDefaults(t *testing.T) {
	raw := manifestYAML + `
thresholds:
  binarization_threshold: 0.2
split:
  max_ratio: 10
`
	m, err := ParseManifest([]byte(raw), "/srv/models")
	require.NoError(t, err)

	want := detection.DefaultConfig()
	want.BinarizationThreshold = 0.2
	assert.Equal(t, want, m.Thresholds)

	split := ocr.DefaultSplitConfig()
	split.MaxRatio = 10
	assert.Equal(t, split, m.Split)
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "detection: [unclosed"},
		{"missing path", "detection: {mean: [0, 0, 0]}"},
		{"grayscale model", `
detection: {path: d.onnx, mean: [0], std: [1], shape: [1, 1, 8, 8], output_shape: [-1, 1, 8, 8]}
recognition: {path: r.onnx, mean: [0, 0, 0], std: [1, 1, 1], shape: [1, 3, 8, 8], output_shape: [-1, 2, 3]}
`},
		{"unknown vocabulary", `
detection: {path: d.onnx, mean: [0, 0, 0], std: [1, 1, 1], shape: [1, 3, 8, 8], output_shape: [-1, 1, 8, 8]}
recognition: {path: r.onnx, mean: [0, 0, 0], std: [1, 1, 1], shape: [1, 3, 8, 8], output_shape: [-1, 2, 3]}
vocabulary: elvish
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml), "/models")
			require.Error(t, err)
			assert.Equal(t, errors.ErrorConfigInvalid, errors.CodeOf(err))
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
