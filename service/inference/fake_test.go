package inference

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrightRegion(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 30))
	for y := 5; y < 15; y++ {
		for x := 10; x < 30; x++ {
			img.SetGray(x, y, color.Gray{Y: 250})
		}
	}

	boxes, err := BrightRegion("person", 0.8, 128)(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 10, boxes[0].X)
	assert.Equal(t, 5, boxes[0].Y)
	assert.Equal(t, 20, boxes[0].W)
	assert.Equal(t, 10, boxes[0].H)

	boxes, err = BrightRegion("person", 0.8, 128)(context.Background(), image.NewGray(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestFakeHonorsCancellation(t *testing.T) {
	svc := NewFunc(nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Detect(ctx, image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), svc.Calls())
}

func TestNewFakeFindsNothing(t *testing.T) {
	res, err := NewFake().Detect(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Empty(t, res.Boxes)
}
