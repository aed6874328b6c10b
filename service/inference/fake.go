package inference

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-live/model"
)

type DetectFunc func(ctx context.Context, img image.Image) ([]model.DetectionBox, error)

type Fake struct {
	detect DetectFunc
	delay  time.Duration
	calls  atomic.Int64
}

// NewFake returns a detector that finds nothing. It is used when no model
// is configured.
func NewFake() IService {
	return NewFunc(nil, 0)
}

// NewFunc wraps fn as a detector; delay simulates inference time.
func NewFunc(fn DetectFunc, delay time.Duration) *Fake {
	return &Fake{
		detect: fn,
		delay:  delay,
	}
}

func (svc *Fake) Name() string {
	return "fake"
}

func (svc *Fake) Calls() int64 {
	return svc.calls.Load()
}

func (svc *Fake) Detect(ctx context.Context, img image.Image) (Result, error) {
	svc.calls.Add(1)

	if svc.delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(svc.delay):
		}
	}

	if svc.detect == nil {
		return Result{}, nil
	}

	boxes, err := svc.detect(ctx, img)
	if err != nil {
		return Result{}, err
	}
	return Result{Boxes: boxes}, nil
}

// BrightRegion finds the bounding box of pixels brighter than threshold and
// reports it under label. Handy for synthetic frames.
func BrightRegion(label string, confidence float64, threshold uint8) DetectFunc {
	return func(_ context.Context, img image.Image) ([]model.DetectionBox, error) {
		b := img.Bounds()
		minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1

		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				lum := (r + g + bl) / 3 >> 8
				if lum <= uint32(threshold) {
					continue
				}
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}

		if maxX < minX {
			return nil, nil
		}

		return []model.DetectionBox{{
			X:          minX - b.Min.X,
			Y:          minY - b.Min.Y,
			W:          maxX - minX + 1,
			H:          maxY - minY + 1,
			Label:      label,
			Confidence: confidence,
		}}, nil
	}
}
