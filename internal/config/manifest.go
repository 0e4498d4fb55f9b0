package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/adverant/nexus/ocr-worker/internal/detection"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/imageops"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

// ModelEntry describes one model file and its IO properties.
type ModelEntry struct {
	Path         string    `yaml:"path"`
	Mean         []float32 `yaml:"mean"`
	Std          []float32 `yaml:"std"`
	Shape        []int     `yaml:"shape"`
	SymmetricPad bool      `yaml:"symmetric_pad"`
	// OutputShape may use -1 for dimensions that vary.
	OutputShape []int64 `yaml:"output_shape"`
	Threads     int     `yaml:"threads"`
}

// Manifest is the YAML model manifest.
//
//	detection:
//	  path: db_resnet50.onnx
//	  mean: [0.798, 0.785, 0.772]
//	  std: [0.264, 0.2749, 0.287]
//	  shape: [2, 3, 1024, 1024]
//	  output_shape: [-1, 1, 1024, 1024]
//	recognition:
//	  path: crnn_vgg16_bn.onnx
//	  ...
//	vocabulary: french
//	decoding: ctc
type Manifest struct {
	Detection   ModelEntry           `yaml:"detection"`
	Recognition ModelEntry           `yaml:"recognition"`
	Orientation *ModelEntry          `yaml:"orientation"`
	Thresholds  detection.Config     `yaml:"thresholds"`
	Vocabulary  string               `yaml:"vocabulary"`
	Decoding    recognition.Strategy `yaml:"decoding"`
	Split       ocr.SplitConfig      `yaml:"split"`
}

// LoadManifest reads and validates the manifest at path. Relative model
// paths resolve against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("failed to read model manifest %s: %v", path, err)
	}
	return ParseManifest(raw, filepath.Dir(path))
}

// ParseManifest decodes a manifest and fills defaults.
func ParseManifest(raw []byte, baseDir string) (*Manifest, error) {
	// yaml.v3 keeps fields the document does not set, so partial
	// thresholds and split blocks inherit the remaining defaults.
	m := &Manifest{
		Thresholds: detection.DefaultConfig(),
		Split:      ocr.DefaultSplitConfig(),
	}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, errors.NewConfigError("invalid model manifest: %v", err)
	}

	if m.Decoding == "" {
		m.Decoding = recognition.StrategyCTC
	}
	if m.Vocabulary == "" {
		m.Vocabulary = "french"
	}

	entries := []*ModelEntry{&m.Detection, &m.Recognition}
	if m.Orientation != nil {
		entries = append(entries, m.Orientation)
	}
	for _, e := range entries {
		if e.Path == "" {
			return nil, errors.NewConfigError("model manifest entry is missing a path")
		}
		if len(e.OutputShape) == 0 {
			return nil, errors.NewConfigError("model %s: output_shape is required", e.Path)
		}
		if !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(baseDir, e.Path)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the split parameters and that every model has valid IO
// properties.
func (m *Manifest) Validate() error {
	if m.Split.MaxRatio <= 0 || m.Split.TargetRatio <= 0 || m.Split.Dilation < 1 {
		return errors.NewConfigError("split parameters must be positive with dilation >= 1, got %+v", m.Split)
	}
	if _, err := m.Detection.Properties(); err != nil {
		return err
	}
	if _, err := m.Recognition.Properties(); err != nil {
		return err
	}
	if m.Orientation != nil {
		if _, err := m.Orientation.Properties(); err != nil {
			return err
		}
	}
	if _, err := recognition.ParseVocabulary(m.Vocabulary); err != nil {
		return err
	}
	return nil
}

// Properties builds the validated model IO properties.
func (e ModelEntry) Properties() (imageops.ModelIOProperties, error) {
	return imageops.NewModelIOProperties(e.Mean, e.Std, e.Shape, e.SymmetricPad)
}

// Spec returns the load-time contract of the model.
func (e ModelEntry) Spec(props imageops.ModelIOProperties) inference.ModelSpec {
	return inference.ModelSpec{
		Path:        e.Path,
		InputShape:  props.InputShape(),
		OutputShape: e.OutputShape,
		BatchSize:   props.BatchSize(),
		Threads:     e.Threads,
	}
}
