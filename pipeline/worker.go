package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/inference"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerWaiting
	WorkerProcessing
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerWaiting:
		return "waiting"
	case WorkerProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

type WorkerConfig struct {
	// How long a single Take waits before re-checking the detection flag
	PollInterval time.Duration
	// Only one of every SkipFactor acquired frames reaches the detector
	SkipFactor int
	// Frames wider than this are downscaled before detection. 0 disables.
	MaxWidth int
}

// DetectionWorker is the single consumer of the detection slot. It runs
// the detector on the freshest frame and publishes the results to the
// cache. Detector failures are logged and never stop the loop.
type DetectionWorker struct {
	cfg      WorkerConfig
	clock    clock.Clock
	slot     *FrameSlot
	cache    *DetectionCache
	state    *SystemState
	detector inference.IService
	alerter  *Alerter
	detlog   *DetectionLog

	current atomic.Int32
	seq     atomic.Uint64

	// Plain counters. uint64 wrap-around is not handled.
	acquired  atomic.Uint64
	skipped   atomic.Uint64
	processed atomic.Uint64
	discarded atomic.Uint64
	errors    atomic.Uint64
	procNanos atomic.Int64

	started time.Time
}

func NewDetectionWorker(cfg WorkerConfig,
	clk clock.Clock,
	slot *FrameSlot,
	cache *DetectionCache,
	state *SystemState,
	detector inference.IService,
	alerter *Alerter,
	detlog *DetectionLog) *DetectionWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.SkipFactor < 1 {
		cfg.SkipFactor = 1
	}

	return &DetectionWorker{
		cfg:      cfg,
		clock:    clk,
		slot:     slot,
		cache:    cache,
		state:    state,
		detector: detector,
		alerter:  alerter,
		detlog:   detlog,
		started:  clk.Now(),
	}
}

func (w *DetectionWorker) Run(ctx context.Context) error {
	lgr.Logger.Info("detection worker starting...",
		slog.String("detector", w.detector.Name()),
		slog.Duration("poll", w.cfg.PollInterval),
		slog.Int("skip", w.cfg.SkipFactor),
		slog.Int("maxWidth", w.cfg.MaxWidth),
	)

	for ctx.Err() == nil {
		w.step(ctx)
	}

	lgr.Logger.Info("detection worker context cancelled")
	return nil
}

// step runs one iteration of the state machine.
func (w *DetectionWorker) step(ctx context.Context) {
	changed := w.state.DetectionChanged()

	if !w.state.DetectionEnabled() {
		if w.State() != WorkerIdle {
			w.reset()
			w.setState(WorkerIdle)
		}

		select {
		case <-ctx.Done():
		case <-changed:
		}
		return
	}

	if w.State() == WorkerIdle {
		w.reset()
		w.setState(WorkerWaiting)
	}

	epoch := w.cache.Epoch()
	frame, err := w.slot.Take(ctx, w.cfg.PollInterval)
	if err != nil {
		return
	}

	n := w.acquired.Add(1)
	if w.shouldSkip(n) {
		w.skipped.Add(1)
		return
	}

	w.setState(WorkerProcessing)
	w.process(ctx, frame, epoch)
	w.setState(WorkerWaiting)
}

// shouldSkip keeps acquired frames 1, N+1, 2N+1, ...
func (w *DetectionWorker) shouldSkip(n uint64) bool {
	k := uint64(w.cfg.SkipFactor)
	return k > 1 && n%k != 1
}

func (w *DetectionWorker) reset() {
	w.cache.Clear()
	w.slot.Drain()
}

func (w *DetectionWorker) process(ctx context.Context, frame Frame, epoch uint64) {
	defer func() {
		if r := recover(); r != nil {
			w.errors.Add(1)
			lgr.Logger.Error("detector panicked",
				slog.Uint64("frame", frame.Seq),
				slog.Any("error", lgr.Trace(fmt.Errorf("%v", r))),
			)
		}
	}()

	start := w.clock.Now()

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		w.errors.Add(1)
		lgr.Logger.Warn("detection worker could not decode frame",
			slog.Uint64("frame", frame.Seq),
			slog.Any("error", err),
		)
		return
	}

	work, sx, sy := Downscale(img, w.cfg.MaxWidth)

	res, err := w.detector.Detect(ctx, work)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.errors.Add(1)
		lgr.Logger.Error("detector failed",
			slog.String("detector", w.detector.Name()),
			slog.Uint64("frame", frame.Seq),
			slog.Any("error", err),
		)
		return
	}

	end := w.clock.Now()
	result := model.DetectionResult{
		Boxes:          ScaleBoxes(res.Boxes, sx, sy, img.Bounds()),
		Timestamp:      end,
		Seq:            w.seq.Add(1),
		ProcessingTime: end.Sub(start),
		FrameWidth:     img.Bounds().Dx(),
		FrameHeight:    img.Bounds().Dy(),
	}

	w.processed.Add(1)
	w.procNanos.Add(int64(result.ProcessingTime))

	if !w.cache.PublishIfCurrent(epoch, result) {
		w.discarded.Add(1)
		lgr.Logger.Debug("discarding detection result from a previous session", slog.Uint64("seq", result.Seq))
		return
	}

	if w.detlog != nil {
		w.detlog.Record(result)
	}

	if w.alerter != nil {
		w.alerter.Consider(result, frame, res.Annotated)
	}
}

func (w *DetectionWorker) State() WorkerState {
	return WorkerState(w.current.Load())
}

func (w *DetectionWorker) setState(s WorkerState) {
	w.current.Store(int32(s))
}

func (w *DetectionWorker) Stats() model.WorkerStats {
	processed := w.processed.Load()
	var avg float64
	if processed > 0 {
		avg = time.Duration(w.procNanos.Load() / int64(processed)).Seconds()
	}

	return model.WorkerStats{
		Name:        "detectionWorker",
		State:       w.State().String(),
		Acquired:    w.acquired.Load(),
		Skipped:     w.skipped.Load(),
		Processed:   processed,
		Discarded:   w.discarded.Load(),
		Errors:      w.errors.Load(),
		AvgProcTime: avg,
		Uptime:      since(w.clock, w.started),
		Timestamp:   w.clock.Now().Unix(),
	}
}
