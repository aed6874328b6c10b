package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-live/pipeline"
	"github.com/khaledhikmat/vs-live/service/lgr"
)

// Migrate exits once the services are built. Building the data service
// applies pending schema migrations.
func Migrate(_ context.Context, svcs pipeline.ServicesFactory) error {
	lgr.Logger.Info("data store is up to date",
		slog.String("driver", svcs.CfgSvc.GetDataDriver()),
		slog.String("source", svcs.CfgSvc.GetDataSource()),
	)
	return nil
}
