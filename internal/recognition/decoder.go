package recognition

import (
	"math"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/tensor"
)

// Strategy selects how a score sequence becomes text.
type Strategy string

const (
	// StrategyCTC collapses repeats and drops the blank token.
	StrategyCTC Strategy = "ctc"
	// StrategyEOS stops at the first end-of-sequence token.
	StrategyEOS Strategy = "eos"
)

// Result is one decoded crop.
type Result struct {
	Text string
	// Confidence is the mean softmax probability of the emitted characters,
	// 0 when nothing was emitted.
	Confidence float64
}

// Decoder turns a [timesteps, classes] score buffer into text.
type Decoder interface {
	Decode(scores *tensor.Buffer) (Result, error)
	Vocabulary() Vocabulary
}

// NewDecoder returns the decoder for strategy.
func NewDecoder(strategy Strategy, vocab Vocabulary) (Decoder, error) {
	switch strategy {
	case StrategyCTC:
		return &CTCDecoder{vocab: vocab}, nil
	case StrategyEOS:
		return &EOSDecoder{vocab: vocab}, nil
	}
	return nil, errors.NewConfigError("unknown decoding strategy %q (expected %q or %q)", strategy, StrategyCTC, StrategyEOS)
}

// CTCDecoder implements collapsed, blank-token decoding.
type CTCDecoder struct {
	vocab Vocabulary
}

// Vocabulary returns the decoder's character table.
func (d *CTCDecoder) Vocabulary() Vocabulary { return d.vocab }

// Decode takes the arg-max class per timestep, skipping the blank index and
// any class equal to the previous timestep's class.
func (d *CTCDecoder) Decode(scores *tensor.Buffer) (Result, error) {
	steps, err := timesteps(scores, d.vocab)
	if err != nil {
		return Result{}, err
	}
	var acc accumulator
	prev := -1
	for _, s := range steps {
		if s.class != prev && s.class != d.vocab.Len() {
			c, _ := d.vocab.Char(s.class)
			acc.add(c, s.prob)
		}
		prev = s.class
	}
	return acc.result(), nil
}

// EOSDecoder implements end-of-sequence decoding.
type EOSDecoder struct {
	vocab Vocabulary
}

// Vocabulary returns the decoder's character table.
func (d *EOSDecoder) Vocabulary() Vocabulary { return d.vocab }

// Decode takes the arg-max class per timestep and stops at the first end
// token. Repeats are kept.
func (d *EOSDecoder) Decode(scores *tensor.Buffer) (Result, error) {
	steps, err := timesteps(scores, d.vocab)
	if err != nil {
		return Result{}, err
	}
	var acc accumulator
	for _, s := range steps {
		if s.class == d.vocab.Len() {
			break
		}
		c, _ := d.vocab.Char(s.class)
		acc.add(c, s.prob)
	}
	return acc.result(), nil
}

type step struct {
	class int
	prob  float64
}

// timesteps reduces each row of a [T, V+1] buffer to its arg-max class and
// the softmax probability of that class.
func timesteps(scores *tensor.Buffer, vocab Vocabulary) ([]step, error) {
	shape := scores.Shape()
	if len(shape) != 2 {
		return nil, errors.NewShapeError(shape, "recognition scores must be [timesteps, classes], got %v", shape)
	}
	classes := vocab.Len() + 1
	if shape[1] != classes {
		return nil, errors.NewShapeError(shape, "recognition scores have %d classes, vocabulary needs %d", shape[1], classes)
	}

	data := scores.Data()
	out := make([]step, shape[0])
	for t := range out {
		row := data[t*classes : (t+1)*classes]
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - row[best]))
		}
		out[t] = step{class: best, prob: 1 / sum}
	}
	return out, nil
}

type accumulator struct {
	sb    strings.Builder
	total float64
	n     int
}

func (a *accumulator) add(c rune, p float64) {
	a.sb.WriteRune(c)
	a.total += p
	a.n++
}

func (a *accumulator) result() Result {
	if a.n == 0 {
		return Result{}
	}
	return Result{Text: a.sb.String(), Confidence: a.total / float64(a.n)}
}
