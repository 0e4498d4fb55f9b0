package inference

import (
	stderrors "errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

var runtimeMu sync.Mutex

// InitRuntime loads the ONNX Runtime shared library once per process.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		if errors.IsLibraryLoadFailure(err) {
			return errors.NewRuntimeUnavailableError(libPath, err)
		}
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ModelSpec declares what a model file must look like.
type ModelSpec struct {
	Path string
	// InputShape and OutputShape may contain tensor.Wildcard dimensions.
	InputShape  []int64
	OutputShape []int64
	BatchSize   int
	Threads     int
}

// TensorInfo is the runtime-independent description of one model IO tensor.
type TensorInfo struct {
	Name  string
	Shape []int64
	Float bool
}

// ValidateIO checks that a model has exactly one float input and one float
// output whose declared shapes are compatible with spec.
func ValidateIO(spec ModelSpec, inputs, outputs []TensorInfo) error {
	if len(inputs) != 1 || len(outputs) != 1 {
		return errors.NewModelContractError(spec.Path, nil, nil,
			"model %s must have exactly one input and one output, has %d inputs and %d outputs",
			spec.Path, len(inputs), len(outputs))
	}
	checks := []struct {
		kind     string
		info     TensorInfo
		expected []int64
	}{
		{"input", inputs[0], spec.InputShape},
		{"output", outputs[0], spec.OutputShape},
	}
	for _, c := range checks {
		if !c.info.Float {
			return errors.NewModelContractError(spec.Path, c.expected, c.info.Shape,
				"model %s %s %q is not a float tensor", spec.Path, c.kind, c.info.Name)
		}
		if !tensor.ShapeMatches(c.expected, c.info.Shape) {
			return errors.NewModelContractError(spec.Path, c.expected, c.info.Shape,
				"model %s %s %q has shape %v, expected %v", spec.Path, c.kind, c.info.Name, c.info.Shape, c.expected)
		}
	}
	return nil
}

// scope releases acquired resources in reverse acquisition order.
type scope struct {
	closers []func() error
}

func (s *scope) acquire(release func() error) {
	s.closers = append(s.closers, release)
}

func (s *scope) release() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return stderrors.Join(errs...)
}

// OnnxModel is a Model backed by an ONNX Runtime session. ONNX Runtime
// allows concurrent Run calls on one session; mu only keeps Close from
// releasing the session under a running batch.
type OnnxModel struct {
	mu        sync.RWMutex
	spec      ModelSpec
	session   *ort.DynamicAdvancedSession
	inputName string
	resources scope
}

// LoadOnnxModel opens spec.Path and validates its IO contract. The session
// options and the session are released together; a failure at any step
// releases whatever was already acquired.
func LoadOnnxModel(spec ModelSpec) (_ *OnnxModel, err error) {
	if spec.BatchSize <= 0 {
		return nil, errors.NewConfigError("model %s: batch size must be positive, got %d", spec.Path, spec.BatchSize)
	}

	m := &OnnxModel{spec: spec}
	defer func() {
		if err != nil {
			if cerr := m.resources.release(); cerr != nil {
				err = stderrors.Join(err, cerr)
			}
		}
	}()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	m.resources.acquire(options.Destroy)

	if spec.Threads > 0 {
		if err := options.SetIntraOpNumThreads(spec.Threads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	rawIn, rawOut, err := ort.GetInputOutputInfo(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model IO info from %s: %w", spec.Path, err)
	}
	inputs, outputs := toTensorInfo(rawIn), toTensorInfo(rawOut)
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, ValidateIO(spec, inputs, outputs)
	}

	session, err := ort.NewDynamicAdvancedSession(spec.Path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", spec.Path, err)
	}
	m.resources.acquire(session.Destroy)
	m.session = session
	m.inputName = inputs[0].Name

	if err := ValidateIO(spec, inputs, outputs); err != nil {
		return nil, err
	}
	return m, nil
}

func toTensorInfo(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, TensorInfo{
			Name:  info.Name,
			Shape: append([]int64(nil), info.Dimensions...),
			Float: info.OrtValueType == ort.ONNXTypeTensor && info.DataType == ort.TensorElementDataTypeFloat,
		})
	}
	return out
}

// BatchSize implements Model.
func (m *OnnxModel) BatchSize() int {
	return m.spec.BatchSize
}

// Run implements Model.
func (m *OnnxModel) Run(input *tensor.Buffer) (*tensor.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, errors.NewInferenceError(m.spec.Path, fmt.Errorf("model is closed"))
	}
	shape := input.Shape()
	if shape[0] > m.spec.BatchSize {
		return nil, errors.NewInvariantError("model %s: batch of %d exceeds configured batch size %d",
			m.spec.Path, shape[0], m.spec.BatchSize)
	}

	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	in, err := ort.NewTensor(ort.NewShape(dims...), input.Data())
	if err != nil {
		return nil, errors.NewInferenceError(m.spec.Path, err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.NewInferenceError(m.spec.Path, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.NewModelContractError(m.spec.Path, m.spec.OutputShape, nil,
			"model %s produced a %T output, expected float32 tensor", m.spec.Path, outputs[0])
	}
	outShape := make([]int, len(out.GetShape()))
	for i, d := range out.GetShape() {
		outShape[i] = int(d)
	}
	return tensor.New(out.GetData(), outShape)
}

// Close releases the session, then its options.
func (m *OnnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return m.resources.release()
}
