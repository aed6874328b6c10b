package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/service/config"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

func init() {
	lgr.Discard()
}

// testConfig overrides a few of the hardcoded defaults.
type testConfig struct {
	config.IService

	folder    string
	detection bool
	skip      int
	maxWidth  int
	cooldown  time.Duration
	danger    []string
}

func newTestConfig(folder string) *testConfig {
	return &testConfig{
		IService: config.NewHardCoded(),
		folder:   folder,
		skip:     1,
		cooldown: 30 * time.Second,
		danger:   []string{"person"},
	}
}

func (c *testConfig) GetInputFolder() string                  { return c.folder }
func (c *testConfig) GetRecordingsFolder() string             { return c.folder + "/saved" }
func (c *testConfig) GetThumbnailsFolder() string             { return c.folder + "/saved/thumbnails" }
func (c *testConfig) GetDetectionEnabled() bool               { return c.detection }
func (c *testConfig) GetDetectionSkipFactor() int             { return c.skip }
func (c *testConfig) GetDetectionMaxWidth() int               { return c.maxWidth }
func (c *testConfig) GetDetectionPollInterval() time.Duration { return 10 * time.Millisecond }
func (c *testConfig) GetNotifyCooldown() time.Duration        { return c.cooldown }
func (c *testConfig) GetDangerClasses() []string              { return c.danger }

// brightSquare is a black w x h image with a white rectangle r.
func brightSquare(w, h int, r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(img, r, image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}
