package pipeline

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/khaledhikmat/vs-live/model"
)

// IngestGateway accepts frames from the camera and routes them to the live
// and detection slots. It never blocks on the consumers.
type IngestGateway struct {
	clock  clock.Clock
	live   *FrameSlot
	detect *FrameSlot
	state  *SystemState

	seq atomic.Uint64

	mu     sync.RWMutex
	latest Frame
}

func NewIngestGateway(clk clock.Clock, live, detect *FrameSlot, state *SystemState) *IngestGateway {
	return &IngestGateway{
		clock:  clk,
		live:   live,
		detect: detect,
		state:  state,
	}
}

// Accept takes ownership of data. An empty body is rejected.
func (g *IngestGateway) Accept(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, model.NewValidationError("frame", "empty body")
	}

	frame := Frame{
		Data:      data,
		Timestamp: g.clock.Now(),
		Seq:       g.seq.Add(1),
	}

	g.mu.Lock()
	g.latest = frame
	g.mu.Unlock()

	g.live.Put(frame)
	if g.state.DetectionEnabled() {
		// overwrites whatever the detector has not picked up yet
		g.detect.Put(frame)
	}

	return frame, nil
}

// Latest returns the most recently accepted raw frame.
func (g *IngestGateway) Latest() (Frame, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latest, !g.latest.Empty()
}

func (g *IngestGateway) Frames() uint64 {
	return g.seq.Load()
}

// UpdateTelemetry applies the X-GPS ("lat,lon") and X-TEMP ("temp,hum")
// header values. Empty values are ignored. A malformed value leaves the
// corresponding state untouched.
func (g *IngestGateway) UpdateTelemetry(gps, env string) error {
	var err error

	if strings.TrimSpace(gps) != "" {
		lat, lon, perr := parsePair("gps", gps)
		if perr == nil {
			perr = g.state.SetGPS(lat, lon)
		}
		err = multierr.Append(err, perr)
	}

	if strings.TrimSpace(env) != "" {
		temp, hum, perr := parsePair("temperature", env)
		if perr == nil {
			perr = g.state.SetEnvironment(temp, hum)
		}
		err = multierr.Append(err, perr)
	}

	return err
}

func parsePair(field, s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, model.NewValidationError(field, "expected two comma separated numbers, got %q", s)
	}

	a, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, model.NewValidationError(field, "%q is not a number", parts[0])
	}

	b, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, model.NewValidationError(field, "%q is not a number", parts[1])
	}

	return a, b, nil
}
