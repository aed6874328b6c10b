package notify

import (
	"context"
	"strings"

	"go.uber.org/multierr"

	"github.com/khaledhikmat/vs-live/model"
)

type fanout []IService

// NewFanout delivers every alert to all sinks. One failing sink does not
// prevent delivery to the others.
func NewFanout(sinks ...IService) IService {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return fanout(sinks)
}

func (f fanout) Name() string {
	names := make([]string, len(f))
	for i, s := range f {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (f fanout) Notify(ctx context.Context, alert model.Alert) error {
	var errs error
	for _, s := range f {
		errs = multierr.Append(errs, s.Notify(ctx, alert))
	}
	return errs
}

func (f fanout) Close() error {
	var errs error
	for _, s := range f {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}
