// Package iris locates the iris disc in a camera frame and turns it into the
// normalized crop the classifier and template matcher consume.
package iris

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/irisballot/backend/internal/models"
)

const DefaultCropSize = 64

// Circle is a Hough candidate in region coordinates.
type Circle struct {
	X, Y, R int
}

// Bounds is the circle's enclosing square.
func (c Circle) Bounds() image.Rectangle {
	return image.Rect(c.X-c.R, c.Y-c.R, c.X+c.R, c.Y+c.R)
}

// Extractor holds only read-only configuration and an optional cascade, so
// Extract is safe to call from the session goroutine without locking.
type Extractor struct {
	cropSize   int
	eyes       gocv.CascadeClassifier
	hasCascade bool
}

func NewExtractor(cropSize int, eyeCascadePath string) (*Extractor, error) {
	if cropSize <= 0 {
		cropSize = DefaultCropSize
	}
	e := &Extractor{cropSize: cropSize}
	if eyeCascadePath != "" {
		e.eyes = gocv.NewCascadeClassifier()
		if !e.eyes.Load(eyeCascadePath) {
			e.eyes.Close()
			return nil, fmt.Errorf("failed to load eye cascade from %s", eyeCascadePath)
		}
		e.hasCascade = true
	}
	return e, nil
}

func (e *Extractor) Close() error {
	if e.hasCascade {
		return e.eyes.Close()
	}
	return nil
}

// Extract returns the normalized iris crop, or false when no usable circle
// lies fully inside the frame.
func (e *Extractor) Extract(frame gocv.Mat) (*models.IrisCrop, bool) {
	if frame.Empty() {
		return nil, false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	}

	roi := e.eyeRegion(gray)
	region := gray.Region(roi)
	defer region.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(region, &blurred, 5)

	circles := gocv.NewMat()
	defer circles.Close()
	rows := blurred.Rows()
	gocv.HoughCirclesWithParams(blurred, &circles, gocv.HoughGradient,
		1, float64(rows)/8, 100, 30, rows/20, rows/4)

	candidates := make([]Circle, 0, circles.Cols())
	for i := 0; i < circles.Cols(); i++ {
		v := circles.GetVecfAt(0, i)
		if len(v) < 3 {
			continue
		}
		candidates = append(candidates, Circle{X: int(v[0]), Y: int(v[1]), R: int(v[2])})
	}

	best, ok := SelectCircle(candidates, image.Rect(0, 0, blurred.Cols(), rows))
	if !ok {
		return nil, false
	}

	crop, err := e.normalize(region, best)
	if err != nil {
		return nil, false
	}
	return crop, true
}

// SelectCircle picks the largest candidate whose bounding square fits in
// bounds.
func SelectCircle(candidates []Circle, bounds image.Rectangle) (Circle, bool) {
	var (
		best  Circle
		found bool
	)
	for _, c := range candidates {
		if c.R <= 0 || !c.Bounds().In(bounds) {
			continue
		}
		if !found || c.R > best.R {
			best, found = c, true
		}
	}
	return best, found
}

// eyeRegion is the largest detected eye, or the whole frame without a
// cascade or detection.
func (e *Extractor) eyeRegion(gray gocv.Mat) image.Rectangle {
	full := image.Rect(0, 0, gray.Cols(), gray.Rows())
	if !e.hasCascade {
		return full
	}
	var best image.Rectangle
	for _, r := range e.eyes.DetectMultiScale(gray) {
		if r.Dx()*r.Dy() > best.Dx()*best.Dy() {
			best = r
		}
	}
	if best.Empty() {
		return full
	}
	return best.Intersect(full)
}

func (e *Extractor) normalize(region gocv.Mat, c Circle) (*models.IrisCrop, error) {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), region.Rows(), region.Cols(), gocv.MatTypeCV8UC1)
	defer mask.Close()
	gocv.Circle(&mask, image.Pt(c.X, c.Y), c.R, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	masked := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), region.Rows(), region.Cols(), gocv.MatTypeCV8UC1)
	defer masked.Close()
	region.CopyToWithMask(&masked, mask)

	disc := masked.Region(c.Bounds())
	defer disc.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(disc, &resized, image.Pt(e.cropSize, e.cropSize), 0, 0, gocv.InterpolationLinear)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(resized, &equalized)

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.GaussianBlur(equalized, &denoised, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	img, err := denoised.ToImage()
	if err != nil {
		return nil, err
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.New("iris crop is not single channel")
	}
	return &models.IrisCrop{Image: g}, nil
}
