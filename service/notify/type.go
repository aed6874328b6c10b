package notify

import (
	"context"

	"github.com/khaledhikmat/vs-live/model"
)

// IService delivers an alert to an outside party. Implementations may block
// on network I/O and are only ever called from a single consumer goroutine.
type IService interface {
	Name() string
	Notify(ctx context.Context, alert model.Alert) error
	Close() error
}
