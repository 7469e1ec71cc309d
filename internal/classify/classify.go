// Package classify adapts an externally trained iris model to the
// (person id, confidence) contract used by the match engine.
package classify

import (
	"errors"
	"fmt"
	"math"

	"github.com/irisballot/backend/internal/biometric"
	"github.com/irisballot/backend/internal/models"
)

var ErrModelUnavailable = errors.New("classification model unavailable")

// Shape is the model input in height, width, channels order.
type Shape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

var DefaultShape = Shape{Height: 64, Width: 64, Channels: 1}

func (s Shape) Valid() bool {
	return s.Height > 0 && s.Width > 0 && s.Channels > 0
}

func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// Normalization is the intensity range a model was trained on.
type Normalization string

const (
	NormalizeUnit   Normalization = "unit"   // [0,1]
	NormalizeSigned Normalization = "signed" // [-1,1]
)

// Tensor is a single HWC sample.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// Model is the only required capability of a classifier.
type Model interface {
	Predict(Tensor) ([]float32, error)
}

// InputShaper is implemented by models that know their input shape.
type InputShaper interface {
	InputShape() Shape
}

// Versioned is implemented by models that carry a version string.
type Versioned interface {
	Version() string
}

// Normalizer is implemented by models that declare their intensity range.
type Normalizer interface {
	Normalization() Normalization
}

// Labeler maps output indices to person ids.
type Labeler interface {
	Labels() []int64
}

type Adapter struct {
	model  Model
	shape  Shape
	norm   Normalization
	labels []int64
}

// NewAdapter inspects the model's optional capabilities once.
func NewAdapter(model Model) *Adapter {
	a := &Adapter{model: model, shape: DefaultShape, norm: NormalizeUnit}
	if model == nil {
		return a
	}
	if s, ok := model.(InputShaper); ok && s.InputShape().Valid() {
		a.shape = s.InputShape()
	}
	if n, ok := model.(Normalizer); ok && n.Normalization() != "" {
		a.norm = n.Normalization()
	}
	if l, ok := model.(Labeler); ok {
		a.labels = l.Labels()
	}
	return a
}

func (a *Adapter) Shape() Shape {
	return a.shape
}

// Version returns the model version or "unversioned".
func (a *Adapter) Version() string {
	if v, ok := a.model.(Versioned); ok && v.Version() != "" {
		return v.Version()
	}
	return "unversioned"
}

// Classify maps a crop to the most probable person and its probability.
// Every failure wraps ErrModelUnavailable.
func (a *Adapter) Classify(crop *models.IrisCrop) (int64, float64, error) {
	if a == nil || a.model == nil {
		return 0, 0, fmt.Errorf("%w: no model loaded", ErrModelUnavailable)
	}
	if crop.Empty() {
		return 0, 0, fmt.Errorf("%w: empty crop", ErrModelUnavailable)
	}

	out, err := a.model.Predict(a.tensor(crop))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(out) == 0 {
		return 0, 0, fmt.Errorf("%w: empty prediction", ErrModelUnavailable)
	}

	probs := toProbabilities(out)
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	id := int64(best)
	if len(a.labels) > 0 {
		if best >= len(a.labels) {
			return 0, 0, fmt.Errorf("%w: output index %d has no label", ErrModelUnavailable, best)
		}
		id = a.labels[best]
	}
	return id, clamp01(probs[best]), nil
}

// tensor resizes the crop to the model shape, replicates gray into every
// channel and scales intensity.
func (a *Adapter) tensor(crop *models.IrisCrop) Tensor {
	img := biometric.Resize(crop.Image, a.shape.Width, a.shape.Height)
	data := make([]float32, 0, a.shape.Size())
	for y := 0; y < a.shape.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+a.shape.Width]
		for _, px := range row {
			v := float32(px) / 255
			if a.norm == NormalizeSigned {
				v = v*2 - 1
			}
			for c := 0; c < a.shape.Channels; c++ {
				data = append(data, v)
			}
		}
	}
	return Tensor{Shape: a.shape, Data: data}
}

// toProbabilities passes through a distribution and softmaxes anything else.
func toProbabilities(out []float32) []float64 {
	probs := make([]float64, len(out))
	var sum float64
	negative := false
	for i, v := range out {
		probs[i] = float64(v)
		sum += probs[i]
		if v < 0 {
			negative = true
		}
	}
	if !negative && math.Abs(sum-1) <= 1e-3 {
		return probs
	}
	return softmax(probs)
}

func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
