package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

const (
	randomFrameWidth  = 640
	randomFrameHeight = 480
)

// Framer feeds frames into ingest as if a camera was uploading them.
type Framer func(canxCtx context.Context, fps int, ingest func([]byte) error, errorStream chan interface{}, statsStream chan interface{})

// NewFramer returns nil for an empty or unknown type.
func NewFramer(framerType, folder string) Framer {
	switch framerType {
	case "random":
		return randomFramer
	case "folder":
		return func(canxCtx context.Context, fps int, ingest func([]byte) error, errorStream chan interface{}, statsStream chan interface{}) {
			folderFramer(canxCtx, folder, fps, ingest, errorStream, statsStream)
		}
	default:
		return nil
	}
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = 10
	}
	return time.Second / time.Duration(fps)
}

func reportFramerStats(name string, startTime int64, frames, errors int, statsStream chan interface{}) {
	uptime := time.Now().Unix() - startTime
	fps := 0
	if uptime > 0 {
		fps = int(float64(frames) / float64(uptime))
	}

	select {
	case statsStream <- model.FramerStats{
		Name:      name,
		Frames:    frames,
		Errors:    errors,
		Uptime:    uptime,
		FPS:       fps,
		Timestamp: time.Now().Unix(),
	}:
	default:
	}
}

// randomFramer generates frames with a bright square bouncing across a
// dark background.
func randomFramer(canxCtx context.Context, fps int, ingest func([]byte) error, _ chan interface{}, statsStream chan interface{}) {
	var startTime = time.Now().Unix()
	var frames = 0
	var errors = 0
	defer func() {
		reportFramerStats("randomFramer", startTime, frames, errors, statsStream)
	}()

	ticker := time.NewTicker(frameInterval(fps))
	defer ticker.Stop()

	x, y, dx, dy := 40, 60, 7, 5
	const side = 120

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info("randomFramer context cancelled")
			return

		case <-ticker.C:
			data, err := syntheticFrame(x, y, side)
			if err != nil {
				errors++
				continue
			}

			if err := ingest(data); err != nil {
				errors++
				continue
			}
			frames++

			x, y = x+dx, y+dy
			if x < 0 || x+side > randomFrameWidth {
				dx = -dx
				x += 2 * dx
			}
			if y < 0 || y+side > randomFrameHeight {
				dy = -dy
				y += 2 * dy
			}
		}
	}
}

func syntheticFrame(x, y, side int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, randomFrameWidth, randomFrameHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 20, G: 24, B: 32, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(x, y, x+side, y+side), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// folderFramer replays the JPEG files of folder in name order, looping.
func folderFramer(canxCtx context.Context, folder string, fps int, ingest func([]byte) error, errorStream chan interface{}, statsStream chan interface{}) {
	var startTime = time.Now().Unix()
	var frames = 0
	var errors = 0
	defer func() {
		reportFramerStats("folderFramer", startTime, frames, errors, statsStream)
	}()

	files, err := listJPEGs(folder)
	if err != nil || len(files) == 0 {
		if err == nil {
			err = fmt.Errorf("no jpeg files in %s", folder)
		}
		select {
		case errorStream <- model.GenError("folder_framer",
			err,
			map[string]interface{}{"folder": folder},
			"error listing frames"):
		case <-canxCtx.Done():
		}
		return
	}

	lgr.Logger.Info("folderFramer starting...", slog.String("folder", folder), slog.Int("files", len(files)))

	ticker := time.NewTicker(frameInterval(fps))
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(files) {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info("folderFramer context cancelled")
			return

		case <-ticker.C:
			data, err := os.ReadFile(files[i])
			if err != nil {
				errors++
				continue
			}

			if err := ingest(data); err != nil {
				errors++
				continue
			}
			frames++
		}
	}
}

func listJPEGs(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
