// Package onnx loads an ONNX iris classifier through OpenCV's dnn module.
package onnx

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/irisballot/backend/internal/classify"
)

// Model is a loaded network plus its manifest. A dnn.Net is not safe for
// concurrent Forward calls, so Predict serializes on mu.
type Model struct {
	mu       sync.Mutex
	net      gocv.Net
	manifest classify.Manifest
}

var (
	_ classify.Model       = (*Model)(nil)
	_ classify.InputShaper = (*Model)(nil)
	_ classify.Versioned   = (*Model)(nil)
	_ classify.Normalizer  = (*Model)(nil)
	_ classify.Labeler     = (*Model)(nil)
)

func Load(modelPath, manifestPath string) (*Model, error) {
	manifest, err := classify.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load onnx model %s: empty network", modelPath)
	}
	return &Model{net: net, manifest: *manifest}, nil
}

func (m *Model) InputShape() classify.Shape {
	return m.manifest.Input
}

func (m *Model) Version() string {
	return m.manifest.Version
}

func (m *Model) Normalization() classify.Normalization {
	return m.manifest.Normalization
}

func (m *Model) Labels() []int64 {
	return m.manifest.Labels
}

// Predict runs one HWC sample through the network and returns the flattened
// output row.
func (m *Model) Predict(t classify.Tensor) ([]float32, error) {
	if t.Shape != m.manifest.Input {
		return nil, fmt.Errorf("tensor shape %+v does not match model input %+v", t.Shape, m.manifest.Input)
	}
	if len(t.Data) != t.Shape.Size() {
		return nil, fmt.Errorf("tensor has %d values, want %d", len(t.Data), t.Shape.Size())
	}

	matType, err := floatMatType(t.Shape.Channels)
	if err != nil {
		return nil, err
	}
	img, err := gocv.NewMatFromBytes(t.Shape.Height, t.Shape.Width, matType, float32Bytes(t.Data))
	if err != nil {
		return nil, fmt.Errorf("build input mat: %w", err)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(t.Shape.Width, t.Shape.Height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, fmt.Errorf("forward pass returned no output")
	}

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}
	result := make([]float32, len(values))
	copy(result, values)
	return result, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

func floatMatType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV32FC1, nil
	case 3:
		return gocv.MatTypeCV32FC3, nil
	case 4:
		return gocv.MatTypeCV32FC4, nil
	}
	return 0, fmt.Errorf("unsupported channel count %d", channels)
}

func float32Bytes(data []float32) []byte {
	out := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
