package data

import (
	"context"
	"fmt"

	"github.com/khaledhikmat/vs-live/service/config"
)

// New returns the data service selected by the configured driver.
func New(ctx context.Context, cfgsvc config.IService) (IService, error) {
	switch cfgsvc.GetDataDriver() {
	case "sqlite":
		return NewSQLite(cfgsvc.GetDataSource())
	case "mongo":
		return NewMongo(ctx, cfgsvc.GetDataSource())
	case "files":
		return NewFilesDB(cfgsvc)
	default:
		return nil, fmt.Errorf("unknown data driver %q", cfgsvc.GetDataDriver())
	}
}
