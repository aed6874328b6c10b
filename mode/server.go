package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/khaledhikmat/vs-live/pipeline"
	"github.com/khaledhikmat/vs-live/service/lgr"
	"github.com/khaledhikmat/vs-live/web"
)

// Server runs the frame pipeline and its HTTP boundary until cancelled.
func Server(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	// Error and stats streams are never closed: producers may still be
	// reporting while shutting down
	errorStream := make(chan interface{}, 16)
	statsStream := make(chan interface{}, 16)

	p := pipeline.New(svcs, clock.New())
	srv := web.New(p, svcs, svcs.TelegramSvc)

	g, gctx := errgroup.WithContext(canxCtx)
	g.Go(func() error {
		return p.Run(gctx, errorStream, statsStream)
	})
	g.Go(func() error {
		return srv.Run(gctx, svcs.CfgSvc.GetHTTPAddress())
	})

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	// Wait for cancellation, completion, stats or error
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"server context cancelled",
			)
			goto resume

		case err := <-done:
			if err != nil {
				lgr.Logger.Error("server exited", slog.Any("error", err))
			}
			return err

		case e := <-errorStream:
			procError(svcs.DataSvc, e)

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)
		}
	}

	// Wait in a non-blocking way for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are existing
resume:
	lgr.Logger.Info(
		"server is waiting for all go routines to exit",
	)

	timer := time.NewTimer(time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"server shutdown waiting period expired. Exiting now",
				slog.Duration("period", time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second),
			)
			return nil

		case err := <-done:
			return err

		case e := <-errorStream:
			procError(svcs.DataSvc, e)

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)
		}
	}
}
