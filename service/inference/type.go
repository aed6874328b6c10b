package inference

import (
	"context"
	"image"

	"github.com/khaledhikmat/vs-live/model"
)

// Result is what a detector returns for one image. Boxes are in the pixel
// space of the image passed in. Annotated is optional.
type Result struct {
	Boxes     []model.DetectionBox
	Annotated image.Image
}

type IService interface {
	Name() string
	Detect(ctx context.Context, img image.Image) (Result, error)
}
