package detector

import (
	"image"

	"github.com/fogleman/gg"
)

// Annotate returns a copy of img with a 2px blue box around each face.
func Annotate(img image.Image, faces []image.Rectangle) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetRGB(0, 0, 1)
	dc.SetLineWidth(2)
	for _, r := range faces {
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
	}
	return dc.Image()
}
