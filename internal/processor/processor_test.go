package processor

import (
	"bytes"
	"context"
	stderrors "errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/inference"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) StoreResult(ctx context.Context, input *storage.ResultInput) (*storage.ResultOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*storage.ResultOutput)
	return out, args.Error(1)
}

func (m *mockStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	return m.Called(ctx, update).Error(0)
}

type fakeEngine struct {
	name    string
	records map[int][]ocr.RecognizedTextRecord
	err     error
	calls   int
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) ProcessPages(_ context.Context, pages []image.Image) (map[int][]ocr.RecognizedTextRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

var twoRecords = map[int][]ocr.RecognizedTextRecord{
	1: {{Text: "hello", Confidence: 0.9}, {Text: "world", Confidence: 0.7}},
}

func TestProcessDocumentStoresRecords(t *testing.T) {
	store := &mockStore{}
	store.On("StoreResult", mock.Anything, mock.MatchedBy(func(in *storage.ResultInput) bool {
		return in.JobID == "job-1" && in.Engine == "fake" && len(in.Pages[1]) == 2
	})).Return(&storage.ResultOutput{JobID: "job-1", PageCount: 1, RecordCount: 2}, nil)

	proc, err := NewDocumentProcessor(&ProcessorConfig{
		Engine: &fakeEngine{name: "fake", records: twoRecords},
		Store:  store,
	})
	require.NoError(t, err)

	res, err := proc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-1",
		MimeType:   "application/octet-stream",
		FileBuffer: pngBytes(t, 20, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, "fake", res.EngineUsed)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	store.AssertExpectations(t)
}

func TestProcessDocumentRejectsUnsupportedFormat(t *testing.T) {
	store := &mockStore{}
	engine := &fakeEngine{name: "fake"}
	proc, err := NewDocumentProcessor(&ProcessorConfig{Engine: engine, Store: store})
	require.NoError(t, err)

	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-2",
		FileBuffer: []byte("%PDF-1.7 ..."),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorUnsupportedFormat, errors.CodeOf(err))
	assert.True(t, errors.IsFatal(err))
	assert.Zero(t, engine.calls)
	store.AssertNotCalled(t, "StoreResult", mock.Anything, mock.Anything)
}

func TestProcessDocumentFallsBack(t *testing.T) {
	store := &mockStore{}
	store.On("StoreResult", mock.Anything, mock.Anything).
		Return(&storage.ResultOutput{PageCount: 1, RecordCount: 2}, nil)

	primary := &fakeEngine{name: "onnx", err: stderrors.New("session run failed")}
	fallback := &fakeEngine{name: "tesseract", records: twoRecords}
	proc, err := NewDocumentProcessor(&ProcessorConfig{Engine: primary, Fallback: fallback, Store: store})
	require.NoError(t, err)

	res, err := proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-3", FileBuffer: pngBytes(t, 8, 8)})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", res.EngineUsed)
	assert.Equal(t, 1, fallback.calls)
}

func TestProcessDocumentSkipsFallbackOnFatalError(t *testing.T) {
	primary := &fakeEngine{name: "onnx", err: errors.NewInvariantError("3 results for 4 inputs")}
	fallback := &fakeEngine{name: "tesseract", records: twoRecords}
	proc, err := NewDocumentProcessor(&ProcessorConfig{Engine: primary, Fallback: fallback, Store: &mockStore{}})
	require.NoError(t, err)

	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-4", FileBuffer: pngBytes(t, 8, 8)})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorOCRFailed, errors.CodeOf(err))
	assert.True(t, errors.IsFatal(err))
	assert.Zero(t, fallback.calls)
}

func TestProcessDocumentWrapsStorageFailure(t *testing.T) {
	store := &mockStore{}
	store.On("StoreResult", mock.Anything, mock.Anything).Return(nil, stderrors.New("connection refused"))
	proc, err := NewDocumentProcessor(&ProcessorConfig{Engine: &fakeEngine{name: "fake", records: twoRecords}, Store: store})
	require.NoError(t, err)

	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-5", FileBuffer: pngBytes(t, 8, 8)})
	assert.Equal(t, errors.ErrorStorageFailed, errors.CodeOf(err))
}

func TestProcessDocumentDownloadsFile(t *testing.T) {
	body := pngBytes(t, 16, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	store := &mockStore{}
	store.On("StoreResult", mock.Anything, mock.Anything).
		Return(&storage.ResultOutput{PageCount: 1, RecordCount: 2}, nil)
	proc, err := NewDocumentProcessor(&ProcessorConfig{
		Engine:      &fakeEngine{name: "fake", records: twoRecords},
		Store:       store,
		MaxFileSize: 1 << 20,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)

	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-6", FileURL: srv.URL + "/page.png"})
	require.NoError(t, err)

	// 404 is not retried
	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-7", FileURL: srv.URL + "/missing.png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestProcessDocumentEnforcesMaxFileSize(t *testing.T) {
	proc, err := NewDocumentProcessor(&ProcessorConfig{
		Engine:      &fakeEngine{name: "fake"},
		Store:       &mockStore{},
		MaxFileSize: 16,
	})
	require.NoError(t, err)

	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-8", FileBuffer: pngBytes(t, 64, 64)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")

	_, err = proc.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-9"})
	assert.Error(t, err)
}

func TestUpdateJobStatusMapsErrors(t *testing.T) {
	store := &mockStore{}
	store.On("UpdateJobStatus", mock.Anything, mock.MatchedBy(func(u *storage.JobUpdate) bool {
		return u.JobID == "job-10" && u.Status == storage.StatusFailed &&
			u.ErrorCode == "OCR_FAILED" && u.ErrorMessage == "boom" && u.Metadata["progress"] == 100
	})).Return(nil)

	proc, err := NewDocumentProcessor(&ProcessorConfig{Engine: &fakeEngine{name: "fake"}, Store: store})
	require.NoError(t, err)
	require.NoError(t, proc.UpdateJobStatus(context.Background(), "job-10", storage.StatusFailed, 100,
		map[string]interface{}{"error": "boom", "errorCode": "OCR_FAILED"}))
	store.AssertExpectations(t)
}

func TestDetectMimeTypeFromMagicBytes(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{[]byte{'I', 'I', 0x2A, 0x00}, "image/tiff"},
		{[]byte{'M', 'M', 0x00, 0x2A}, "image/tiff"},
		{[]byte("BM\x00\x00\x00\x00"), "image/bmp"},
		{[]byte("%PDF-1.4"), "application/pdf"},
		{[]byte("abc"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectMimeTypeFromMagicBytes(tt.data))
	}
}

func TestLinesToRecords(t *testing.T) {
	lines := []gosseract.BoundingBox{
		{Box: image.Rect(10, 20, 110, 40), Word: "Invoice 42\n", Confidence: 91},
		{Box: image.Rect(0, 0, 5, 5), Word: "  \n", Confidence: 10},
	}
	recs := linesToRecords(lines, image.Rect(0, 0, 200, 100), 0.5)
	require.Len(t, recs, 1)
	assert.Equal(t, "Invoice 42", recs[0].Text)
	assert.InDelta(t, 0.91, recs[0].Confidence, 1e-9)
	assert.Equal(t, geom.Point{X: 10, Y: 40}, recs[0].PixelBox[geom.BottomLeft])
	assert.Equal(t, geom.Point{X: 5, Y: 30}, recs[0].Box[geom.BottomLeft])
}

// nopModel satisfies inference.Model for loader tests.
type nopModel struct {
	path   string
	closed *[]string
}

func (m *nopModel) Run(*tensor.Buffer) (*tensor.Buffer, error) { return nil, stderrors.New("not used") }
func (m *nopModel) BatchSize() int                              { return 1 }
func (m *nopModel) Close() error {
	*m.closed = append(*m.closed, m.path)
	return nil
}

const testManifest = `
detection: {path: det.onnx, mean: [0, 0, 0], std: [1, 1, 1], shape: [1, 3, 32, 32], output_shape: [-1, 1, 32, 32]}
recognition: {path: rec.onnx, mean: [0, 0, 0], std: [1, 1, 1], shape: [4, 3, 8, 32], output_shape: [-1, 8, 11]}
orientation: {path: cls.onnx, mean: [0, 0, 0], std: [1, 1, 1], shape: [4, 3, 16, 16], output_shape: [-1, 4]}
vocabulary: digits
`

func TestNewOnnxEngineLoadsAllModels(t *testing.T) {
	m, err := config.ParseManifest([]byte(testManifest), "/models")
	require.NoError(t, err)

	var closed []string
	var specs []inference.ModelSpec
	load := func(spec inference.ModelSpec) (inference.Model, error) {
		specs = append(specs, spec)
		return &nopModel{path: spec.Path, closed: &closed}, nil
	}

	engine, err := NewOnnxEngine(m, load, nil, ocr.DefaultOutputScale, nil)
	require.NoError(t, err)
	assert.Equal(t, "onnx", engine.Name())
	require.Len(t, specs, 3)
	assert.Equal(t, []int64{-1, 3, 8, 32}, specs[1].InputShape)
	assert.Equal(t, 4, specs[1].BatchSize)

	require.NoError(t, engine.Close())
	assert.Equal(t, []string{"/models/cls.onnx", "/models/rec.onnx", "/models/det.onnx"}, closed)
}

func TestNewOnnxEngineReleasesOnFailure(t *testing.T) {
	m, err := config.ParseManifest([]byte(testManifest), "/models")
	require.NoError(t, err)

	var closed []string
	load := func(spec inference.ModelSpec) (inference.Model, error) {
		if spec.Path == "/models/rec.onnx" {
			return nil, errors.NewModelContractError(spec.Path, spec.OutputShape, []int64{-1, 8, 12}, "bad output")
		}
		return &nopModel{path: spec.Path, closed: &closed}, nil
	}

	_, err = NewOnnxEngine(m, load, nil, ocr.DefaultOutputScale, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorModelContract, errors.CodeOf(err))
	assert.Equal(t, []string{"/models/det.onnx"}, closed)
}
