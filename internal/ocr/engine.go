// Package ocr drives detection, orientation and recognition over page images
// and produces page-indexed text records.
package ocr

import (
	"context"
	"fmt"
	"image"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adverant/nexus/ocr-worker/internal/detection"
	"github.com/adverant/nexus/ocr-worker/internal/geom"
	"github.com/adverant/nexus/ocr-worker/internal/imageops"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/orientation"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
	"github.com/adverant/nexus/ocr-worker/internal/vision"
)

// Options are the optional parts of an Engine.
type Options struct {
	// Classifier rotates crops upright before recognition when set.
	Classifier  *orientation.Classifier
	Split       SplitConfig
	OutputScale float64
	Logger      *logging.Logger
}

// Engine runs the full OCR pipeline. It holds no per-call state, so one
// Engine may serve several workers at once when its models allow
// concurrent Run calls, as OnnxModel does.
type Engine struct {
	detector   *detection.Detector
	recognizer *recognition.Recognizer
	classifier *orientation.Classifier
	toolkit    vision.Toolkit
	split      SplitConfig
	scale      float64
	logger     *logging.Logger
	tracer     trace.Tracer
}

// NewEngine creates a new Engine
func NewEngine(det *detection.Detector, rec *recognition.Recognizer, tk vision.Toolkit, opts Options) *Engine {
	if opts.Split == (SplitConfig{}) {
		opts.Split = DefaultSplitConfig()
	}
	if opts.OutputScale == 0 {
		opts.OutputScale = DefaultOutputScale
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("ocr")
	}
	return &Engine{
		detector:   det,
		recognizer: rec,
		classifier: opts.Classifier,
		toolkit:    tk,
		split:      opts.Split,
		scale:      opts.OutputScale,
		logger:     opts.Logger,
		tracer:     otel.Tracer("ocr-engine"),
	}
}

// ProcessPages runs OCR over every page and returns records keyed by 1-based
// page number. Pages without text map to an empty list.
func (e *Engine) ProcessPages(ctx context.Context, pages []image.Image) (map[int][]RecognizedTextRecord, error) {
	ctx, span := e.tracer.Start(ctx, "ocr.process_pages")
	defer span.End()
	span.SetAttributes(attribute.Int("pages", len(pages)))

	start := time.Now()
	out := make(map[int][]RecognizedTextRecord, len(pages))
	i := 0
	for dets, err := range e.detector.Detect(ctx, slices.Values(pages)) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "detection failed")
			return nil, fmt.Errorf("detection failed on page %d: %w", i+1, err)
		}
		records, err := e.processPage(ctx, i+1, pages[i], dets)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page failed")
			return nil, err
		}
		out[i+1] = records
		i++
	}

	e.logger.Info("OCR complete", "pages", len(pages), "duration", time.Since(start).String())
	return out, nil
}

func (e *Engine) processPage(ctx context.Context, pageNum int, page image.Image, dets []detection.Detection) ([]RecognizedTextRecord, error) {
	ctx, span := e.tracer.Start(ctx, "ocr.page")
	defer span.End()
	span.SetAttributes(attribute.Int("page", pageNum), attribute.Int("boxes", len(dets)))

	if len(dets) == 0 {
		return []RecognizedTextRecord{}, nil
	}

	// Step 1: Crop and de-rotate every box
	rgba := imageops.ToRGBA(page)
	crops := make([]*image.RGBA, len(dets))
	for i, det := range dets {
		crop, err := imageops.ExtractCrop(e.toolkit, rgba, det.Box)
		if err != nil {
			return nil, fmt.Errorf("crop %d on page %d: %w", i, pageNum, err)
		}
		crops[i] = crop
	}

	// Step 2: Turn crops upright
	orientations := make([]geom.Orientation, len(crops))
	if e.classifier != nil {
		preds, err := e.classifier.Classify(ctx, asImages(crops))
		if err != nil {
			return nil, fmt.Errorf("orientation failed on page %d: %w", pageNum, err)
		}
		for i, p := range preds {
			if p.Orientation == geom.Deg0 {
				continue
			}
			if crops[i], err = orientation.Upright(crops[i], p); err != nil {
				return nil, err
			}
			orientations[i] = p.Orientation
		}
	}

	// Step 3: Split wide crops and recognize all parts of the page at once
	parts, counts := SplitCrops(crops, e.split)
	results, err := e.recognizer.Recognize(ctx, asImages(parts))
	if err != nil {
		return nil, fmt.Errorf("recognition failed on page %d: %w", pageNum, err)
	}

	// Step 4: Merge split parts back per box
	merged, err := MergeSplits(results, counts, e.split.Dilation)
	if err != nil {
		return nil, err
	}

	b := page.Bounds()
	records := make([]RecognizedTextRecord, len(dets))
	for i, det := range dets {
		records[i] = RecognizedTextRecord{
			Text:           merged[i].Text,
			Box:            ToPageBox(det.Box, b.Dy(), e.scale),
			PixelBox:       det.Box,
			Orientation:    orientations[i],
			DetectionScore: det.Score,
			Confidence:     merged[i].Confidence,
		}
	}

	e.logger.Debug("Page recognized", "page", pageNum, "boxes", len(dets), "parts", len(parts))
	return records, nil
}

func asImages(crops []*image.RGBA) []image.Image {
	out := make([]image.Image, len(crops))
	for i, c := range crops {
		out[i] = c
	}
	return out
}
