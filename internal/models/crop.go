package models

import "image"

// IrisCrop is a normalized, masked square gray image of the iris disc.
type IrisCrop struct {
	Image *image.Gray
}

// Size returns the edge length of the crop, or 0 for an empty crop.
func (c *IrisCrop) Size() int {
	if c == nil || c.Image == nil {
		return 0
	}
	return c.Image.Bounds().Dx()
}

// Empty reports whether the crop carries no pixels.
func (c *IrisCrop) Empty() bool {
	return c.Size() == 0 || c.Image.Bounds().Dy() == 0
}
