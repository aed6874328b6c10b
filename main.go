package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-live/mode"
	"github.com/khaledhikmat/vs-live/pipeline"
	"github.com/khaledhikmat/vs-live/service/config"
	"github.com/khaledhikmat/vs-live/service/data"
	"github.com/khaledhikmat/vs-live/service/inference"
	"github.com/khaledhikmat/vs-live/service/inference/yolo5"
	"github.com/khaledhikmat/vs-live/service/lgr"
	"github.com/khaledhikmat/vs-live/service/notify"
	"github.com/khaledhikmat/vs-live/service/storage"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"server":  mode.Server,
	"migrate": mode.Migrate,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			lgr.Logger.Error("error loading .env file", slog.Any("error", xerrors.New(err.Error())))
			panic("error loading .env file")
		}
	}

	modeType := "server"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Create the services needed for the mode processor
	// Config service
	cfgSvc := config.NewEnv()

	lgr.Setup(lgr.Options{
		Level:   cfgSvc.GetLogLevel(),
		File:    cfgSvc.GetLogFile(),
		Console: true,
	})

	// Data service
	dataSvc, err := data.New(canxCtx, cfgSvc)
	if err != nil {
		lgr.Logger.Error("error creating data service", slog.Any("error", lgr.Trace(err)))
		panic("error creating data service")
	}
	defer dataSvc.Close()

	svcs := pipeline.ServicesFactory{
		CfgSvc:  cfgSvc,
		DataSvc: dataSvc,
	}

	if modeType != "migrate" {
		svcs = buildPipelineServices(svcs)
		defer svcs.NotifySvc.Close()
	}

	// Create mode processor result
	modeProcResult := make(chan error)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or mode proc
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"vs-live context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"vs-live mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			return
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are existing
resume:
	lgr.Logger.Info(
		"vs-live is waiting for all go routines to exit",
	)

	// The only way to exit the main function is to wait for the shutdown
	// duration or the mode processor
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"vs-live shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)
			return

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"vs-live mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			return
		}
	}
}

func buildPipelineServices(svcs pipeline.ServicesFactory) pipeline.ServicesFactory {
	cfgSvc := svcs.CfgSvc

	// Storage service
	storageSvc, err := storage.NewFiles(cfgSvc)
	if err != nil {
		lgr.Logger.Error("error creating storage service", slog.Any("error", lgr.Trace(err)))
		panic("error creating storage service")
	}

	// Inference service: fall back to a detector that finds nothing
	var inferenceSvc inference.IService
	inferenceSvc, err = yolo5.New(cfgSvc.GetYoloModelPath(), cfgSvc.GetYoloLabelsPath())
	if err != nil {
		lgr.Logger.Warn("yolo5 detector unavailable, detection will find nothing", slog.Any("error", err))
		inferenceSvc = inference.NewFake()
	}

	// Notification sinks
	notifySvc, telegramSvc := notify.New(cfgSvc, "vs-live-"+uuid.NewString()[:8])

	svcs.StorageSvc = storageSvc
	svcs.InferenceSvc = inferenceSvc
	svcs.NotifySvc = notifySvc
	svcs.TelegramSvc = telegramSvc
	return svcs
}
