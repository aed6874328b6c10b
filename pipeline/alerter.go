package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
	"github.com/khaledhikmat/vs-live/service/notify"
)

const alertDeliveryTimeout = 30 * time.Second

type AlerterConfig struct {
	// Boxes must be strictly above this confidence to alert
	Confidence float64
	// Minimum time between two alerts for the same label
	Cooldown  time.Duration
	QueueSize int
}

// Alerter decides which detections turn into danger notifications and
// delivers them from a single goroutine. Consider never blocks: when the
// outbound queue is full the alert is dropped.
type Alerter struct {
	cfg        AlerterConfig
	clock      clock.Clock
	state      *SystemState
	compositor *Compositor
	notifier   notify.IService

	mu        sync.Mutex
	lastAlert map[string]time.Time

	queue chan model.Alert

	alerts     atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
	errors     atomic.Uint64

	started time.Time
}

func NewAlerter(cfg AlerterConfig, clk clock.Clock, state *SystemState, compositor *Compositor, notifier notify.IService) *Alerter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	return &Alerter{
		cfg:        cfg,
		clock:      clk,
		state:      state,
		compositor: compositor,
		notifier:   notifier,
		lastAlert:  map[string]time.Time{},
		queue:      make(chan model.Alert, cfg.QueueSize),
		started:    clk.Now(),
	}
}

// Consider enqueues one alert per qualifying label of result and returns
// how many were enqueued.
func (a *Alerter) Consider(result model.DetectionResult, frame Frame, annotated image.Image) int {
	var img []byte
	enqueued := 0
	gps := a.state.GPS().String()

	for _, box := range result.Boxes {
		label := normalizeLabel(box.Label)
		if box.Confidence <= a.cfg.Confidence || !a.state.IsDanger(label) {
			continue
		}

		if !a.allow(label) {
			a.suppressed.Add(1)
			continue
		}

		if img == nil {
			img = a.alertImage(result, frame, annotated)
		}

		alert := model.Alert{
			Label:      label,
			Confidence: box.Confidence,
			Boxes:      result.Boxes,
			GPS:        gps,
			Caption:    AlertCaption(label, box.Confidence, gps),
			Image:      img,
			Timestamp:  a.clock.Now(),
		}

		select {
		case a.queue <- alert:
			enqueued++
		default:
			a.dropped.Add(1)
			lgr.Logger.Warn("alert queue full, dropping alert", slog.String("label", label))
		}
	}

	return enqueued
}

// allow records the alert time of label when it is outside its cooldown.
func (a *Alerter) allow(label string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if last, ok := a.lastAlert[label]; ok && now.Sub(last) < a.cfg.Cooldown {
		return false
	}
	a.lastAlert[label] = now
	return true
}

func (a *Alerter) alertImage(result model.DetectionResult, frame Frame, annotated image.Image) []byte {
	if annotated != nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: defaultJPEGQual}); err == nil {
			return buf.Bytes()
		}
	}

	if a.compositor != nil {
		img, err := a.compositor.Annotate(frame.Data, result.Boxes)
		if err == nil {
			return img
		}
		lgr.Logger.Warn("could not annotate alert image", slog.Any("error", err))
	}

	return frame.Data
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	lgr.Logger.Info("alerter starting...",
		slog.String("notifier", a.notifier.Name()),
		slog.Duration("cooldown", a.cfg.Cooldown),
		slog.Float64("confidence", a.cfg.Confidence),
	)

	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info("alerter context cancelled")
			return nil

		case alert := <-a.queue:
			a.deliver(ctx, alert)
		}
	}
}

func (a *Alerter) deliver(ctx context.Context, alert model.Alert) {
	dctx, cancel := context.WithTimeout(ctx, alertDeliveryTimeout)
	defer cancel()

	if err := a.notifier.Notify(dctx, alert); err != nil {
		a.errors.Add(1)
		lgr.Logger.Error("alert delivery failed",
			slog.String("notifier", a.notifier.Name()),
			slog.String("label", alert.Label),
			slog.Any("error", err),
		)
		return
	}

	a.alerts.Add(1)
	lgr.Logger.Info("alert delivered",
		slog.String("label", alert.Label),
		slog.Float64("confidence", alert.Confidence),
		slog.String("gps", alert.GPS),
	)
}

func (a *Alerter) Stats() model.AlerterStats {
	return model.AlerterStats{
		Name:       "alerter",
		Alerts:     a.alerts.Load(),
		Suppressed: a.suppressed.Load(),
		Dropped:    a.dropped.Load(),
		Errors:     a.errors.Load(),
		Uptime:     since(a.clock, a.started),
		Timestamp:  a.clock.Now().Unix(),
	}
}

func AlertCaption(label string, confidence float64, gps string) string {
	return fmt.Sprintf("🚨 Detected: %s\nConfidence: %.0f%%\nGPS: %s\nCheck the live feed!",
		strings.ToUpper(label), confidence*100, gps)
}
