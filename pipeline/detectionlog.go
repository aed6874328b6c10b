package pipeline

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

// DetectionLog appends every non-empty published result as one JSON line.
type DetectionLog struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewDetectionLog returns nil when filename is empty.
func NewDetectionLog(filename string) *DetectionLog {
	if filename == "" {
		return nil
	}

	return newDetectionLogWriter(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7, // days
		Compress:   true,
	})
}

func newDetectionLogWriter(w io.WriteCloser) *DetectionLog {
	return &DetectionLog{w: w}
}

type detectionEntry struct {
	Time       string               `json:"time"`
	Seq        uint64               `json:"seq"`
	ProcTimeMS int64                `json:"procTimeMs"`
	Detections []model.DetectionBox `json:"detections"`
}

func (l *DetectionLog) Record(r model.DetectionResult) {
	if l == nil || len(r.Boxes) == 0 {
		return
	}

	data, err := json.Marshal(detectionEntry{
		Time:       r.Timestamp.Format(time.RFC3339Nano),
		Seq:        r.Seq,
		ProcTimeMS: r.ProcessingTime.Milliseconds(),
		Detections: r.Boxes,
	})
	if err != nil {
		lgr.Logger.Error("error marshaling detections", slog.Any("error", err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		lgr.Logger.Error("error writing to detection log file", slog.Any("error", err))
	}
}

func (l *DetectionLog) Close() error {
	if l == nil {
		return nil
	}
	return l.w.Close()
}
