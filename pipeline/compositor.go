package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

const (
	boxThickness    = 4
	labelFontSize   = 16
	labelPadding    = 6
	labelBorder     = 2
	labelGap        = 10
	hudFontSize     = 14
	defaultJPEGQual = 95
)

var (
	alertColor  = color.RGBA{R: 255, A: 255}
	normalColor = color.RGBA{G: 255, A: 255}
	plateText   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	hudPlate    = color.RGBA{A: 160}
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Compositor renders the live view of a raw frame: detection overlay,
// optional HUD, then the negative effect. It holds no per-frame state and
// is safe for concurrent use.
type Compositor struct {
	quality  int
	isDanger func(string) bool
	clock    clock.Clock
}

func NewCompositor(clk clock.Clock, quality int, isDanger func(string) bool) *Compositor {
	if quality <= 0 || quality > 100 {
		quality = defaultJPEGQual
	}
	if isDanger == nil {
		isDanger = func(string) bool { return false }
	}
	return &Compositor{
		quality:  quality,
		isDanger: isDanger,
		clock:    clk,
	}
}

// Composite decodes raw, renders it and re-encodes it. Any decode or
// encode failure yields raw unchanged.
func (c *Compositor) Composite(raw []byte, effects model.Effects, snap *model.DetectionResult) []byte {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		lgr.Logger.Debug("compositor passing through undecodable frame", slog.Any("error", err))
		return raw
	}

	out, err := c.encode(c.Render(img, effects, snap))
	if err != nil {
		lgr.Logger.Warn("compositor failed to encode frame", slog.Any("error", err))
		return raw
	}
	return out
}

// Annotate draws boxes on raw regardless of the current effects. Used for
// notification images.
func (c *Compositor) Annotate(raw []byte, boxes []model.DetectionBox) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	dst := toRGBA(img)
	c.drawBoxes(dst, boxes)
	return c.encode(dst)
}

// Render produces the composited pixels. The overlay is drawn before the
// negative inversion, so inverted frames carry inverted overlay colors.
func (c *Compositor) Render(img image.Image, effects model.Effects, snap *model.DetectionResult) *image.RGBA {
	dst := toRGBA(img)

	if effects.Detection && snap != nil {
		c.drawBoxes(dst, snap.Boxes)
		if effects.HUD {
			c.drawHUD(dst, snap)
		}
	}

	if effects.Negative {
		invert(dst)
	}

	return dst
}

func (c *Compositor) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compositor) drawBoxes(dst *image.RGBA, boxes []model.DetectionBox) {
	if len(boxes) == 0 {
		return
	}

	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: labelFontSize}))

	for _, b := range boxes {
		col := normalColor
		if c.isDanger(b.Label) {
			col = alertColor
		}

		x, y, w, h := float64(b.X), float64(b.Y), float64(b.W), float64(b.H)

		dc.SetColor(col)
		dc.SetLineWidth(boxThickness)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()

		text := boxLabel(b)
		labelW, labelH := dc.MeasureString(text)

		textX := x + w/2 - labelW/2
		textY := y - labelGap
		if textY-labelH < 0 {
			textY = y + h + labelH + labelGap
		}

		px := textX - labelPadding
		py := textY - labelH - labelPadding
		pw := labelW + 2*labelPadding
		ph := labelH + 2*labelPadding

		dc.SetColor(col)
		dc.DrawRectangle(px, py, pw, ph)
		dc.Fill()

		dc.SetColor(plateText)
		dc.SetLineWidth(labelBorder)
		dc.DrawRectangle(px, py, pw, ph)
		dc.Stroke()

		dc.DrawString(text, textX, textY)
	}
}

func boxLabel(b model.DetectionBox) string {
	return fmt.Sprintf("%s %.2f", b.Label, b.Confidence)
}

func (c *Compositor) drawHUD(dst *image.RGBA, snap *model.DetectionResult) {
	alerts := 0
	for _, b := range snap.Boxes {
		if c.isDanger(b.Label) {
			alerts++
		}
	}

	age := c.clock.Since(snap.Timestamp).Seconds()
	text := fmt.Sprintf("LIVE #%d %.2fs alert:%d other:%d", snap.Seq, age, alerts, len(snap.Boxes)-alerts)

	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: hudFontSize}))
	w, h := dc.MeasureString(text)

	dc.SetColor(hudPlate)
	dc.DrawRectangle(4, 4, w+12, h+12)
	dc.Fill()

	dc.SetColor(plateText)
	dc.DrawString(text, 10, 10+h)
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func invert(img *image.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255 - img.Pix[i]
		img.Pix[i+1] = 255 - img.Pix[i+1]
		img.Pix[i+2] = 255 - img.Pix[i+2]
	}
}
