package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

// LiveDistributor is the single consumer of the live slot. Every taken
// frame is composited with the freshest detection result and pushed to
// the connected viewers. Slow viewers miss frames, they never block it.
type LiveDistributor struct {
	clock      clock.Clock
	slot       *FrameSlot
	cache      *DetectionCache
	state      *SystemState
	compositor *Compositor
	poll       time.Duration

	// latest is replaced, never mutated, so viewers may write it unlocked.
	mu      sync.RWMutex
	latest  []byte
	updated chan struct{}

	viewers atomic.Int64
	frames  atomic.Uint64
	skipped atomic.Uint64
	started time.Time
}

func NewLiveDistributor(clk clock.Clock, slot *FrameSlot, cache *DetectionCache, state *SystemState, compositor *Compositor, poll time.Duration) *LiveDistributor {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}

	return &LiveDistributor{
		clock:      clk,
		slot:       slot,
		cache:      cache,
		state:      state,
		compositor: compositor,
		updated:    make(chan struct{}),
		poll:       poll,
		started:    clk.Now(),
	}
}

func (d *LiveDistributor) Run(ctx context.Context) error {
	lgr.Logger.Info("live distributor starting...")

	for {
		frame, err := d.slot.Take(ctx, d.poll)
		if err != nil {
			if errors.Is(err, ErrNoFrame) {
				continue
			}
			lgr.Logger.Info("live distributor context cancelled")
			return nil
		}

		d.distribute(frame)
	}
}

func (d *LiveDistributor) distribute(frame Frame) {
	if d.viewers.Load() == 0 {
		d.skipped.Add(1)
		return
	}

	d.publish(d.Render(frame.Data))
	d.frames.Add(1)
}

func (d *LiveDistributor) publish(jpg []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest = jpg
	close(d.updated)
	d.updated = make(chan struct{})
}

// next returns the latest published JPEG and a channel closed on the
// following publish.
func (d *LiveDistributor) next() ([]byte, <-chan struct{}) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.latest, d.updated
}

// Render composites raw with the current effects and fresh detection.
func (d *LiveDistributor) Render(raw []byte) []byte {
	effects := d.state.Effects()

	var snap *model.DetectionResult
	if effects.Detection {
		if r, ok := d.cache.Snapshot(); ok {
			snap = &r
		}
	}

	return d.compositor.Composite(raw, effects, snap)
}

// ServeHTTP streams multipart MJPEG to one viewer until it disconnects.
func (d *LiveDistributor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := d.viewers.Add(1)
	lgr.Logger.Info("viewer connected", slog.Int64("viewers", n), slog.String("remote", r.RemoteAddr))

	defer func() {
		n := d.viewers.Add(-1)
		lgr.Logger.Info("viewer disconnected", slog.Int64("viewers", n), slog.String("remote", r.RemoteAddr))
	}()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	jpg, wait := d.next()
	for {
		if len(jpg) > 0 {
			if err := writePart(mw, jpg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-wait:
		}
		jpg, wait = d.next()
	}
}

func writePart(mw *multipart.Writer, jpg []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(jpg)))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(jpg)
	return err
}

func (d *LiveDistributor) Viewers() int64 {
	return d.viewers.Load()
}

func (d *LiveDistributor) Stats() model.DistributorStats {
	return model.DistributorStats{
		Name:      "liveDistributor",
		Viewers:   d.viewers.Load(),
		Frames:    d.frames.Load(),
		Skipped:   d.skipped.Load(),
		Uptime:    since(d.clock, d.started),
		Timestamp: d.clock.Now().Unix(),
	}
}
