package notify

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

type logService struct{}

// NewLog only logs alerts. It is used when no sink is configured.
func NewLog() IService {
	return &logService{}
}

func (svc *logService) Name() string {
	return "log"
}

func (svc *logService) Notify(_ context.Context, alert model.Alert) error {
	lgr.Logger.Info("alert detected",
		slog.String("label", alert.Label),
		slog.Float64("confidence", alert.Confidence),
		slog.String("gps", alert.GPS),
		slog.Int("boxes", len(alert.Boxes)),
		slog.Time("timestamp", alert.Timestamp),
	)
	return nil
}

func (svc *logService) Close() error {
	return nil
}
