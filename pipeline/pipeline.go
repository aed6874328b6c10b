package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

// Pipeline wires the ingest, detection and live paths around the shared
// state.
type Pipeline struct {
	ID string

	svcs  ServicesFactory
	clock clock.Clock

	State       *SystemState
	LiveSlot    *FrameSlot
	DetectSlot  *FrameSlot
	Cache       *DetectionCache
	Compositor  *Compositor
	Gateway     *IngestGateway
	Worker      *DetectionWorker
	Distributor *LiveDistributor
	Alerter     *Alerter

	detlog  *DetectionLog
	started time.Time
}

func New(svcs ServicesFactory, clk clock.Clock) *Pipeline {
	cfg := svcs.CfgSvc

	state := NewSystemState(clk, cfg.GetDangerClasses())
	state.SetHUD(cfg.GetLiveHUD())

	p := &Pipeline{
		ID:         uuid.NewString(),
		svcs:       svcs,
		clock:      clk,
		State:      state,
		LiveSlot:   NewFrameSlot("live"),
		DetectSlot: NewFrameSlot("detection"),
		Cache:      NewDetectionCache(clk, cfg.GetDetectionMaxAge()),
		detlog:     NewDetectionLog(cfg.GetDetectionLogFile()),
		started:    clk.Now(),
	}

	p.Compositor = NewCompositor(clk, cfg.GetJPEGQuality(), state.IsDanger)
	p.Gateway = NewIngestGateway(clk, p.LiveSlot, p.DetectSlot, state)
	p.Alerter = NewAlerter(AlerterConfig{
		Confidence: cfg.GetNotifyConfidence(),
		Cooldown:   cfg.GetNotifyCooldown(),
		QueueSize:  cfg.GetNotifyQueueSize(),
	}, clk, state, p.Compositor, svcs.NotifySvc)
	p.Worker = NewDetectionWorker(WorkerConfig{
		PollInterval: cfg.GetDetectionPollInterval(),
		SkipFactor:   cfg.GetDetectionSkipFactor(),
		MaxWidth:     cfg.GetDetectionMaxWidth(),
	}, clk, p.DetectSlot, p.Cache, state, svcs.InferenceSvc, p.Alerter, p.detlog)
	p.Distributor = NewLiveDistributor(clk, p.LiveSlot, p.Cache, state, p.Compositor, cfg.GetDetectionPollInterval())

	if cfg.GetDetectionEnabled() {
		p.SetDetection(true)
	}

	return p
}

// Run starts the detection worker, the live distributor, the alerter and
// the optional simulated camera. Stats are emitted on statsStream every
// stats period. It returns when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, errorStream chan interface{}, statsStream chan interface{}) error {
	lgr.Logger.Info("pipeline starting....",
		slog.String("id", p.ID),
		slog.String("detector", p.svcs.InferenceSvc.Name()),
		slog.String("notifier", p.svcs.NotifySvc.Name()),
		slog.Any("dangerClasses", p.State.DangerClasses()),
		slog.Duration("maxAge", p.Cache.MaxAge()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Worker.Run(gctx) })
	g.Go(func() error { return p.Distributor.Run(gctx) })
	g.Go(func() error { return p.Alerter.Run(gctx) })

	if framer := NewFramer(p.svcs.CfgSvc.GetFramerType(), p.svcs.CfgSvc.GetFramerFolder()); framer != nil {
		ingest := func(data []byte) error {
			_, err := p.Gateway.Accept(data)
			return err
		}
		g.Go(func() error {
			framer(gctx, p.svcs.CfgSvc.GetFramerFPS(), ingest, errorStream, statsStream)
			return nil
		})
	}

	g.Go(func() error {
		period := time.Duration(p.svcs.CfgSvc.GetStatsPeriodicTimeout()) * time.Second
		if period <= 0 {
			period = 30 * time.Second
		}
		ticker := p.clock.Ticker(period)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				p.emitStats(gctx, statsStream)
			}
		}
	})

	err := g.Wait()
	if cerr := p.detlog.Close(); cerr != nil {
		lgr.Logger.Warn("error closing detection log", slog.Any("error", cerr))
	}
	return err
}

func (p *Pipeline) emitStats(ctx context.Context, statsStream chan interface{}) {
	all := []interface{}{
		p.Worker.Stats(),
		p.Distributor.Stats(),
		p.Alerter.Stats(),
		p.LiveSlot.Stats(),
		p.DetectSlot.Stats(),
	}

	for _, s := range all {
		select {
		case <-ctx.Done():
			return
		case statsStream <- s:
		}
	}
}

// SetDetection switches detection and discards any cached result and
// pending detection frame, so stale boxes never reappear.
func (p *Pipeline) SetDetection(on bool) bool {
	changed := p.State.SetDetection(on)
	if changed {
		p.Cache.Clear()
		p.DetectSlot.Drain()
		lgr.Logger.Info("object detection toggled", slog.Bool("enabled", on))
	}
	return changed
}

func (p *Pipeline) ToggleDetection() bool {
	on := !p.State.DetectionEnabled()
	p.SetDetection(on)
	return on
}

func (p *Pipeline) ToggleNegative() bool {
	on := p.State.ToggleNegative()
	lgr.Logger.Info("negative effect toggled", slog.Bool("enabled", on))
	return on
}

// Ingest accepts a frame and applies the telemetry headers. Malformed
// telemetry is logged and does not reject the frame.
func (p *Pipeline) Ingest(data []byte, gps, env string) (Frame, error) {
	frame, err := p.Gateway.Accept(data)
	if err != nil {
		return Frame{}, err
	}

	if err := p.Gateway.UpdateTelemetry(gps, env); err != nil {
		lgr.Logger.Warn("ignoring malformed telemetry",
			slog.String("gps", gps),
			slog.String("env", env),
			slog.Any("error", err),
		)
	}
	return frame, nil
}

// CurrentFrame composites the latest raw frame on demand.
func (p *Pipeline) CurrentFrame() ([]byte, error) {
	frame, ok := p.Gateway.Latest()
	if !ok {
		return nil, ErrNoFrame
	}
	return p.Distributor.Render(frame.Data), nil
}

type DetectionStatus struct {
	Enabled bool                   `json:"enabled"`
	Fresh   bool                   `json:"fresh"`
	Age     float64                `json:"age"`
	Result  *model.DetectionResult `json:"result,omitempty"`
}

type Status struct {
	ID            string                 `json:"id"`
	Uptime        int64                  `json:"uptime"`
	Frames        uint64                 `json:"frames"`
	Effects       model.Effects          `json:"effects"`
	DangerClasses []string               `json:"dangerClasses"`
	MaxAge        float64                `json:"maxAge"`
	GPS           model.GPS              `json:"gps"`
	Environment   model.Environment      `json:"environment"`
	Command       string                 `json:"command"`
	Detection     DetectionStatus        `json:"detection"`
	Worker        model.WorkerStats      `json:"worker"`
	Distributor   model.DistributorStats `json:"distributor"`
	Alerter       model.AlerterStats     `json:"alerter"`
	Slots         []model.SlotStats      `json:"slots"`
}

func (p *Pipeline) DetectionStatus() DetectionStatus {
	ds := DetectionStatus{Enabled: p.State.DetectionEnabled()}
	if r, ok := p.Cache.Latest(); ok {
		ds.Result = &r
		ds.Age = p.clock.Since(r.Timestamp).Seconds()
		_, ds.Fresh = p.Cache.Snapshot()
	}
	return ds
}

func (p *Pipeline) Status() Status {
	return Status{
		ID:            p.ID,
		Uptime:        since(p.clock, p.started),
		Frames:        p.Gateway.Frames(),
		Effects:       p.State.Effects(),
		DangerClasses: p.State.DangerClasses(),
		MaxAge:        p.Cache.MaxAge().Seconds(),
		GPS:           p.State.GPS(),
		Environment:   p.State.Environment(),
		Command:       p.State.Command(),
		Detection:     p.DetectionStatus(),
		Worker:        p.Worker.Stats(),
		Distributor:   p.Distributor.Stats(),
		Alerter:       p.Alerter.Stats(),
		Slots:         []model.SlotStats{p.LiveSlot.Stats(), p.DetectSlot.Stats()},
	}
}
