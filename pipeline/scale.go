package pipeline

import (
	"image"
	"math"

	"github.com/nfnt/resize"

	"github.com/khaledhikmat/vs-live/model"
)

// Downscale shrinks img to maxWidth keeping the aspect ratio. It returns
// the working image and the factors mapping working coordinates back to
// the original frame. maxWidth <= 0 disables downscaling.
func Downscale(img image.Image, maxWidth int) (image.Image, float64, float64) {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img, 1, 1
	}

	work := resize.Resize(uint(maxWidth), 0, img, resize.Bilinear)
	wb := work.Bounds()
	return work, float64(b.Dx()) / float64(wb.Dx()), float64(b.Dy()) / float64(wb.Dy())
}

// ScaleBoxes maps boxes found on a downscaled image back to the original
// frame and clips them to its bounds. Boxes entirely outside are dropped.
func ScaleBoxes(boxes []model.DetectionBox, sx, sy float64, frame image.Rectangle) []model.DetectionBox {
	out := make([]model.DetectionBox, 0, len(boxes))
	for _, b := range boxes {
		x0 := int(math.Round(float64(b.X) * sx))
		y0 := int(math.Round(float64(b.Y) * sy))
		x1 := int(math.Round(float64(b.X+b.W) * sx))
		y1 := int(math.Round(float64(b.Y+b.H) * sy))

		r := image.Rect(x0, y0, x1, y1).Add(frame.Min).Intersect(frame)
		if r.Empty() {
			continue
		}

		b.X = r.Min.X - frame.Min.X
		b.Y = r.Min.Y - frame.Min.Y
		b.W = r.Dx()
		b.H = r.Dy()
		out = append(out, b)
	}
	return out
}
