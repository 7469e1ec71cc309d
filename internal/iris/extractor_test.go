package iris

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestSelectCircle(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)

	best, ok := SelectCircle([]Circle{
		{X: 50, Y: 50, R: 20},
		{X: 100, Y: 50, R: 45},
		{X: 190, Y: 50, R: 60}, // spills over the right edge
		{X: 150, Y: 50, R: 0},
	}, bounds)
	require.True(t, ok)
	assert.Equal(t, Circle{X: 100, Y: 50, R: 45}, best)

	_, ok = SelectCircle([]Circle{{X: 5, Y: 5, R: 10}}, bounds)
	assert.False(t, ok)

	_, ok = SelectCircle(nil, bounds)
	assert.False(t, ok)
}

func TestExtractBlankFrame(t *testing.T) {
	e, err := NewExtractor(0, "")
	require.NoError(t, err)
	defer e.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	crop, ok := e.Extract(frame)
	assert.False(t, ok)
	assert.Nil(t, crop)

	empty := gocv.NewMat()
	defer empty.Close()
	_, ok = e.Extract(empty)
	assert.False(t, ok)
}

func TestFrameExtractorRejectsForeignFrames(t *testing.T) {
	e, err := NewExtractor(32, "")
	require.NoError(t, err)
	defer e.Close()

	_, ok := FrameExtractor{e}.ExtractFrame(plainFrame{})
	assert.False(t, ok)
}

func TestNewExtractorMissingCascade(t *testing.T) {
	_, err := NewExtractor(64, "/nonexistent/haarcascade_eye.xml")
	assert.Error(t, err)
}

type plainFrame struct{}

func (plainFrame) Close() error { return nil }
