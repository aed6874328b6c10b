package notify

import (
	"context"
	"sync"

	"github.com/khaledhikmat/vs-live/model"
)

// Fake records alerts. Err, when set, is returned by every Notify.
type Fake struct {
	Err error

	mu     sync.Mutex
	alerts []model.Alert
	sent   chan model.Alert
}

func NewFake() *Fake {
	return &Fake{
		sent: make(chan model.Alert, 64),
	}
}

func (svc *Fake) Name() string {
	return "fake"
}

func (svc *Fake) Notify(_ context.Context, alert model.Alert) error {
	svc.mu.Lock()
	svc.alerts = append(svc.alerts, alert)
	svc.mu.Unlock()

	select {
	case svc.sent <- alert:
	default:
	}
	return svc.Err
}

// Sent receives every notified alert.
func (svc *Fake) Sent() <-chan model.Alert {
	return svc.sent
}

func (svc *Fake) Alerts() []model.Alert {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]model.Alert{}, svc.alerts...)
}

func (svc *Fake) Close() error {
	return nil
}
