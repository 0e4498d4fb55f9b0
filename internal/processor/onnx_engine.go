package processor

import (
	stderrors "errors"
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/detection"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/orientation"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
	"github.com/adverant/nexus/ocr-worker/internal/vision"
)

// ModelLoader opens a model described by spec.
type ModelLoader func(spec inference.ModelSpec) (inference.Model, error)

// LoadOnnx is the ModelLoader backed by ONNX Runtime.
func LoadOnnx(spec inference.ModelSpec) (inference.Model, error) {
	m, err := inference.LoadOnnxModel(spec)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// OnnxEngine is the model pipeline engine
type OnnxEngine struct {
	*ocr.Engine
	models []inference.Model
}

// NewOnnxEngine loads every model in the manifest and wires the pipeline.
// Models loaded before a failure are closed again.
func NewOnnxEngine(m *config.Manifest, load ModelLoader, tk vision.Toolkit, outputScale float64, logger *logging.Logger) (_ *OnnxEngine, err error) {
	if logger == nil {
		logger = logging.NewLogger("onnx-engine")
	}
	e := &OnnxEngine{}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	open := func(entry config.ModelEntry) (inference.Model, error) {
		props, err := entry.Properties()
		if err != nil {
			return nil, err
		}
		model, err := load(entry.Spec(props))
		if err != nil {
			return nil, fmt.Errorf("failed to load model %s: %w", entry.Path, err)
		}
		e.models = append(e.models, model)
		return model, nil
	}

	// Step 1: Detection
	detModel, err := open(m.Detection)
	if err != nil {
		return nil, err
	}
	detProps, _ := m.Detection.Properties()
	det := detection.NewDetector(detModel, detProps, detection.NewPostProcessor(m.Thresholds, tk))

	// Step 2: Recognition
	vocab, err := recognition.ParseVocabulary(m.Vocabulary)
	if err != nil {
		return nil, err
	}
	decoder, err := recognition.NewDecoder(m.Decoding, vocab)
	if err != nil {
		return nil, err
	}
	recModel, err := open(m.Recognition)
	if err != nil {
		return nil, err
	}
	recProps, _ := m.Recognition.Properties()
	rec := recognition.NewRecognizer(recModel, recProps, decoder)

	// Step 3: Optional orientation
	var classifier *orientation.Classifier
	if m.Orientation != nil {
		clsModel, err := open(*m.Orientation)
		if err != nil {
			return nil, err
		}
		clsProps, _ := m.Orientation.Properties()
		classifier = orientation.NewClassifier(clsModel, clsProps)
	}

	e.Engine = ocr.NewEngine(det, rec, tk, ocr.Options{
		Classifier:  classifier,
		Split:       m.Split,
		OutputScale: outputScale,
		Logger:      logger,
	})
	logger.Info("ONNX pipeline ready",
		"detection", m.Detection.Path,
		"recognition", m.Recognition.Path,
		"orientation", classifier != nil,
		"vocabulary_size", vocab.Len(),
		"decoding", string(m.Decoding))
	return e, nil
}

// Name identifies the engine in job results
func (e *OnnxEngine) Name() string { return "onnx" }

// Close releases every loaded model in reverse load order.
func (e *OnnxEngine) Close() error {
	var errs []error
	for i := len(e.models) - 1; i >= 0; i-- {
		if err := e.models[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.models = nil
	return stderrors.Join(errs...)
}
