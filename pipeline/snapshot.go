package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

// SaveSnapshot composites the latest raw frame with the current effects,
// stores it with a thumbnail and records its metadata. Detection results
// are attached only when detection is enabled and the cached result is
// fresh.
func (p *Pipeline) SaveSnapshot(ctx context.Context) (model.ImageRecord, error) {
	frame, ok := p.Gateway.Latest()
	if !ok {
		return model.ImageRecord{}, ErrNoFrame
	}

	effects := p.State.Effects()
	var snap *model.DetectionResult
	if effects.Detection {
		if r, ok := p.Cache.Snapshot(); ok {
			snap = &r
		}
	}

	out := p.Compositor.Composite(frame.Data, effects, snap)

	now := p.clock.Now()
	rec := model.ImageRecord{
		ID:          uuid.NewString(),
		Filename:    fmt.Sprintf("captured_%s_%03d.jpg", now.Format("20060102_150405"), now.Nanosecond()/1e6),
		Created:     now,
		GPS:         p.State.GPS(),
		Environment: p.State.Environment(),
		Effects:     effects,
		Detection:   snap,
		Tags:        []string{},
	}

	stored, err := p.svcs.StorageSvc.StoreImage(rec.Filename, out)
	if err != nil {
		return model.ImageRecord{}, fmt.Errorf("storing snapshot: %w", err)
	}
	rec.Path = stored.Path
	rec.Thumbnail = stored.Thumbnail
	rec.Size = stored.Size

	if err := p.svcs.DataSvc.SaveImage(ctx, rec); err != nil {
		if derr := p.svcs.StorageSvc.DeleteImage(rec.Filename); derr != nil {
			lgr.Logger.Warn("could not remove orphaned snapshot", slog.String("file", rec.Filename), slog.Any("error", derr))
		}
		return model.ImageRecord{}, fmt.Errorf("recording snapshot: %w", err)
	}

	lgr.Logger.Info("snapshot saved",
		slog.String("id", rec.ID),
		slog.String("file", rec.Filename),
		slog.Bool("detection", rec.HasDetection()),
	)

	return rec, nil
}

// DeleteSnapshot removes the record and its files.
func (p *Pipeline) DeleteSnapshot(ctx context.Context, id string) (model.ImageRecord, error) {
	rec, err := p.svcs.DataSvc.DeleteImage(ctx, id)
	if err != nil {
		return rec, err
	}

	if err := p.svcs.StorageSvc.DeleteImage(rec.Filename); err != nil {
		lgr.Logger.Warn("could not remove snapshot files", slog.String("file", rec.Filename), slog.Any("error", err))
	}
	return rec, nil
}

// SendSnapshot pushes a stored snapshot to the notification sinks.
func (p *Pipeline) SendSnapshot(ctx context.Context, id string) error {
	rec, err := p.svcs.DataSvc.RetrieveImage(ctx, id)
	if err != nil {
		return err
	}

	img, err := p.svcs.StorageSvc.ReadImage(rec.Filename)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	return p.svcs.NotifySvc.Notify(ctx, model.Alert{
		Label:     "snapshot",
		GPS:       rec.GPS.String(),
		Caption:   SnapshotCaption(rec),
		Image:     img,
		Timestamp: p.clock.Now(),
	})
}

func SnapshotCaption(rec model.ImageRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📷 Snapshot %s\n", rec.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "GPS: %s", rec.GPS.String())

	if rec.Environment.Valid {
		fmt.Fprintf(&b, "\nTemp: %.1f°C Humidity: %.0f%%", rec.Environment.Temperature, rec.Environment.Humidity)
	}

	if rec.HasDetection() {
		counts := map[string]int{}
		for _, box := range rec.Detection.Boxes {
			counts[box.Label]++
		}
		labels := make([]string, 0, len(counts))
		for l, n := range counts {
			labels = append(labels, fmt.Sprintf("%s x%d", l, n))
		}
		sort.Strings(labels)
		fmt.Fprintf(&b, "\nDetected: %s", strings.Join(labels, ", "))
	}

	return b.String()
}
