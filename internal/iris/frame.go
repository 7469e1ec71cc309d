package iris

import (
	"gocv.io/x/gocv"

	"github.com/irisballot/backend/internal/matcher"
	"github.com/irisballot/backend/internal/models"
)

// MatFrame is any frame that exposes its OpenCV matrix.
type MatFrame interface {
	Mat() gocv.Mat
}

// FrameExtractor adapts Extractor to frames handed out by the camera
// package.
type FrameExtractor struct {
	*Extractor
}

var _ matcher.Extractor = FrameExtractor{}

func (f FrameExtractor) ExtractFrame(frame matcher.Frame) (*models.IrisCrop, bool) {
	mf, ok := frame.(MatFrame)
	if !ok {
		return nil, false
	}
	return f.Extract(mf.Mat())
}
