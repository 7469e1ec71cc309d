package classify

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irisballot/backend/internal/models"
)

type fakeModel struct {
	out []float32
	err error
	got Tensor
}

func (m *fakeModel) Predict(t Tensor) ([]float32, error) {
	m.got = t
	return m.out, m.err
}

type shapedModel struct {
	fakeModel
	shape   Shape
	norm    Normalization
	labels  []int64
	version string
}

func (m *shapedModel) InputShape() Shape            { return m.shape }
func (m *shapedModel) Normalization() Normalization { return m.norm }
func (m *shapedModel) Labels() []int64              { return m.labels }
func (m *shapedModel) Version() string              { return m.version }

func uniformCrop(size int, v uint8) *models.IrisCrop {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return &models.IrisCrop{Image: img}
}

func TestClassifyArgmax(t *testing.T) {
	m := &fakeModel{out: []float32{0.1, 0.7, 0.2}}
	a := NewAdapter(m)

	id, conf, err := a.Classify(uniformCrop(32, 128))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.InDelta(t, 0.7, conf, 1e-6)
	assert.Equal(t, "unversioned", a.Version())

	assert.Equal(t, DefaultShape, m.got.Shape)
	assert.Len(t, m.got.Data, DefaultShape.Size())
}

func TestClassifyAppliesSoftmaxToLogits(t *testing.T) {
	a := NewAdapter(&fakeModel{out: []float32{2, -1, 0.5}})

	id, conf, err := a.Classify(uniformCrop(64, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
	// e^2 / (e^2 + e^-1 + e^0.5)
	assert.InDelta(t, 0.7856, conf, 1e-3)
}

func TestClassifyUsesModelShapeAndLabels(t *testing.T) {
	m := &shapedModel{
		fakeModel: fakeModel{out: []float32{0.05, 0.05, 0.9}},
		shape:     Shape{Height: 16, Width: 24, Channels: 3},
		norm:      NormalizeSigned,
		labels:    []int64{101, 102, 103},
		version:   "iris-v3",
	}
	a := NewAdapter(m)
	assert.Equal(t, "iris-v3", a.Version())

	id, conf, err := a.Classify(uniformCrop(64, 255))
	require.NoError(t, err)
	assert.Equal(t, int64(103), id)
	assert.InDelta(t, 0.9, conf, 1e-6)

	require.Len(t, m.got.Data, 16*24*3)
	assert.Equal(t, m.shape, m.got.Shape)
	for _, v := range m.got.Data {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestSignedNormalization(t *testing.T) {
	m := &shapedModel{fakeModel: fakeModel{out: []float32{1}}, shape: Shape{Height: 4, Width: 4, Channels: 1}, norm: NormalizeSigned}
	_, _, err := NewAdapter(m).Classify(uniformCrop(4, 0))
	require.NoError(t, err)
	for _, v := range m.got.Data {
		assert.InDelta(t, -1.0, v, 1e-6)
	}
}

func TestClassifyFailuresWrapModelUnavailable(t *testing.T) {
	cases := map[string]struct {
		adapter *Adapter
		crop    *models.IrisCrop
	}{
		"nil model":     {NewAdapter(nil), uniformCrop(8, 1)},
		"empty crop":    {NewAdapter(&fakeModel{out: []float32{1}}), &models.IrisCrop{}},
		"nil crop":      {NewAdapter(&fakeModel{out: []float32{1}}), nil},
		"predict error": {NewAdapter(&fakeModel{err: errors.New("onnx runtime crashed")}), uniformCrop(8, 1)},
		"empty output":  {NewAdapter(&fakeModel{out: []float32{}}), uniformCrop(8, 1)},
		"missing label": {NewAdapter(&shapedModel{fakeModel: fakeModel{out: []float32{0.1, 0.9}}, labels: []int64{7}}), uniformCrop(8, 1)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := tc.adapter.Classify(tc.crop)
			assert.ErrorIs(t, err, ErrModelUnavailable)
		})
	}
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 1.0, clamp01(1.5))
	assert.Equal(t, 0.3, clamp01(0.3))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	m, err := LoadManifest(write("ok.json", `{"version":"v2","input":{"height":32,"width":32,"channels":1},"labels":[4,8]}`))
	require.NoError(t, err)
	assert.Equal(t, "v2", m.Version)
	assert.Equal(t, Shape{Height: 32, Width: 32, Channels: 1}, m.Input)
	assert.Equal(t, NormalizeUnit, m.Normalization)
	assert.Equal(t, []int64{4, 8}, m.Labels)

	_, err = LoadManifest(write("shape.json", `{"input":{"height":0,"width":32,"channels":1}}`))
	assert.Error(t, err)

	_, err = LoadManifest(write("norm.json", `{"input":{"height":8,"width":8,"channels":1},"normalization":"zscore"}`))
	assert.Error(t, err)

	_, err = LoadManifest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

