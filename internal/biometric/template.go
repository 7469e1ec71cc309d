// Package biometric holds the iris template format and the distance used for
// duplicate detection and 1:1 template confirmation.
package biometric

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

const (
	magic      = "IRT1"
	headerSize = len(magic) + 4
	maxSide    = 1024
)

var (
	ErrInvalidTemplate = errors.New("invalid iris template")
	ErrEmptyImage      = errors.New("empty iris image")
)

// Encode serializes a grayscale crop as magic, width, height, pixels.
func Encode(img *image.Gray) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}
	if w > maxSide || h > maxSide {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrInvalidTemplate, w, h, maxSide)
	}

	out := make([]byte, headerSize+w*h)
	copy(out, magic)
	binary.BigEndian.PutUint16(out[4:6], uint16(w))
	binary.BigEndian.PutUint16(out[6:8], uint16(h))

	px := out[headerSize:]
	for y := 0; y < h; y++ {
		row := img.Pix[(y+b.Min.Y-img.Rect.Min.Y)*img.Stride+(b.Min.X-img.Rect.Min.X):]
		copy(px[y*w:(y+1)*w], row[:w])
	}
	return out, nil
}

// Decode parses a template produced by Encode.
func Decode(data []byte) (*image.Gray, error) {
	if len(data) < headerSize || string(data[:4]) != magic {
		return nil, ErrInvalidTemplate
	}
	w := int(binary.BigEndian.Uint16(data[4:6]))
	h := int(binary.BigEndian.Uint16(data[6:8]))
	if w == 0 || h == 0 || len(data) != headerSize+w*h {
		return nil, fmt.Errorf("%w: size mismatch", ErrInvalidTemplate)
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, data[headerSize:])
	return img, nil
}

// Distance is the mean squared error between two crops after scaling pixel
// intensities to [0,1]. b is resampled to a's size when they differ.
func Distance(a, b *image.Gray) (float64, error) {
	if a == nil || b == nil || a.Bounds().Empty() || b.Bounds().Empty() {
		return 0, ErrEmptyImage
	}
	if a.Bounds().Size() != b.Bounds().Size() {
		b = Resize(b, a.Bounds().Dx(), a.Bounds().Dy())
	}

	ab, bb := a.Bounds(), b.Bounds()
	var sum float64
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			pa := float64(a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y) / 255
			pb := float64(b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y) / 255
			d := pa - pb
			sum += d * d
		}
	}
	return sum / float64(ab.Dx()*ab.Dy()), nil
}

// TemplateDistance decodes both templates and compares them.
func TemplateDistance(a, b []byte) (float64, error) {
	ia, err := Decode(a)
	if err != nil {
		return 0, err
	}
	ib, err := Decode(b)
	if err != nil {
		return 0, err
	}
	return Distance(ia, ib)
}

// Resize scales img to w×h with bilinear interpolation.
func Resize(img *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
