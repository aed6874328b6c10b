package yolo5

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/inference"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

const (
	inputSize                 = 640
	objectConfidenceThreshold = 0.25
	classConfidenceThreshold  = 0.45
	nmsThreshold              = 0.45
)

type detection struct {
	classID    int
	confidence float32
	rect       image.Rectangle
}

type service struct {
	labels []string

	// WARNING: net is not thread-safe!!!
	mu  sync.Mutex
	net gocv.Net
}

// New loads an ONNX YOLOv5 model and its class names (one per line).
func New(modelPath, labelsPath string) (inference.IService, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("no yolo5 model at %s: %w", modelPath, err)
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("error reading yolo5 model %s", modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting target: %w", err)
	}

	lgr.Logger.Info("yolo5 detector loaded",
		slog.String("model", modelPath),
		slog.Int("labels", len(labels)),
		slog.String("openCV", gocv.Version()),
	)

	return &service{
		labels: labels,
		net:    net,
	}, nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n"), nil
}

func (svc *service) Name() string {
	return "yolo5"
}

func (svc *service) Detect(ctx context.Context, img image.Image) (inference.Result, error) {
	if err := ctx.Err(); err != nil {
		return inference.Result{}, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return inference.Result{}, fmt.Errorf("converting image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return inference.Result{}, fmt.Errorf("empty frame")
	}

	// ImageToMatRGB yields BGR, so swap to RGB for the network
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	svc.mu.Lock()
	svc.net.SetInput(blob, "")
	output := svc.net.Forward("")
	svc.mu.Unlock()
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return inference.Result{}, fmt.Errorf("unexpected DNN output dims: %v", dims)
	}

	reshaped := output.Reshape(1, dims[1])
	defer reshaped.Close()
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		return inference.Result{}, fmt.Errorf("reshape failed or invalid dimensions")
	}

	var candidates []detection
	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, okErr := row.DataPtrFloat32()
		if okErr != nil || len(data) < 5 {
			row.Close()
			continue
		}
		// DataPtrFloat32 aliases the row memory
		values := append([]float32(nil), data...)
		row.Close()

		if d, ok := svc.extract(values, mat.Cols(), mat.Rows()); ok {
			candidates = append(candidates, d)
		}
	}

	return inference.Result{Boxes: svc.suppress(candidates)}, nil
}

// extract turns one output row into a detection in image pixels. The row
// holds normalized cx, cy, w, h, objectness and one score per class.
func (svc *service) extract(data []float32, cols, rows int) (detection, bool) {
	objectConfidence := data[4]
	if objectConfidence < objectConfidenceThreshold {
		return detection{}, false
	}

	classScores := data[5:]
	if len(classScores) != len(svc.labels) {
		return detection{}, false
	}

	classID := -1
	classConfidence := float32(0.0)
	for j, score := range classScores {
		if score > classConfidence {
			classConfidence = score
			classID = j
		}
	}

	finalConf := objectConfidence * classConfidence
	if classID == -1 || finalConf < classConfidenceThreshold {
		return detection{}, false
	}

	// Coordinates are relative to the 640x640 network input
	sx := float32(cols) / inputSize
	sy := float32(rows) / inputSize
	if data[0] <= 1 && data[2] <= 1 {
		sx, sy = float32(cols), float32(rows)
	}

	cx := data[0] * sx
	cy := data[1] * sy
	w := data[2] * sx
	h := data[3] * sy
	x := int(cx - w/2)
	y := int(cy - h/2)

	return detection{
		classID:    classID,
		confidence: finalConf,
		rect:       image.Rect(x, y, x+int(w), y+int(h)),
	}, true
}

func (svc *service) suppress(candidates []detection) []model.DetectionBox {
	if len(candidates) == 0 {
		return nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, d := range candidates {
		rects[i] = d.rect
		scores[i] = d.confidence
	}

	keep := gocv.NMSBoxes(rects, scores, classConfidenceThreshold, nmsThreshold)

	boxes := make([]model.DetectionBox, 0, len(keep))
	for _, i := range keep {
		d := candidates[i]
		classID := d.classID
		boxes = append(boxes, model.DetectionBox{
			X:          d.rect.Min.X,
			Y:          d.rect.Min.Y,
			W:          d.rect.Dx(),
			H:          d.rect.Dy(),
			Label:      svc.labels[d.classID],
			Confidence: float64(d.confidence),
			ClassID:    &classID,
		})
	}
	return boxes
}

func (svc *service) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.net.Close()
}
