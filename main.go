package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"membersonly-live/internal/config"
	"membersonly-live/internal/logging"
	"membersonly-live/internal/runtime"

	flags "github.com/jessevdk/go-flags"
)

var BuildVersion = "dev"

const (
	exitUsage     = 2
	exitRunFailed = 1
	exitAbandoned = 3
)

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	lock, lockedByOther, lockErr := acquireInstanceLock()
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(exitUsage)
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "Members Only Live is already running.")
		os.Exit(exitRunFailed)
	}

	code := run(rootCtx, opts)
	_ = lock.Release()
	os.Exit(code)
}

func run(ctx context.Context, opts config.Options) int {
	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.LogToFile {
		if err := logger.EnableFilePersistence(opts.LogDir, 0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	logger.Info("starting members only live client", logging.Field("version", BuildVersion))

	controller := runtime.NewController(ctx)
	err := controller.Start(opts, logger, runtime.StartHooks{
		Output: os.Stdout,
		OnStatus: func(status string) {
			logger.Info("status", logging.Field("status", status))
		},
	})
	if err != nil {
		logger.Error("failed to start", logging.Field("error", err))
		return exitUsage
	}
	controller.Wait(0)

	switch runtime.ClassifyExit(controller.Err()) {
	case runtime.OutcomeInterrupted, runtime.OutcomeSessionEnded:
		return 0
	case runtime.OutcomeAbandoned:
		return exitAbandoned
	default:
		return exitRunFailed
	}
}
