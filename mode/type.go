package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/pipeline"
	"github.com/khaledhikmat/vs-live/service/data"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	var kind string
	switch stats.(type) {
	case model.WorkerStats:
		kind = "worker"
	case model.DistributorStats:
		kind = "distributor"
	case model.AlerterStats:
		kind = "alerter"
	case model.SlotStats:
		kind = "slot"
	case model.FramerStats:
		kind = "framer"
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	lgr.Logger.Debug("stats", slog.String("kind", kind), slog.Any("stats", stats))

	err := datasvc.NewStats(kind, stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.String("kind", kind),
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	lgr.Logger.Error("processor reported error", slog.Any("error", err))

	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
