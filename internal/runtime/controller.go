package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"membersonly-live/internal/app"
	"membersonly-live/internal/config"
	"membersonly-live/internal/logging"
)

// Outcome classifies how a live run ended.
type Outcome string

const (
	OutcomeInterrupted  Outcome = "interrupted"
	OutcomeSessionEnded Outcome = "session-ended"
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeFailed       Outcome = "failed"
)

func ClassifyExit(err error) Outcome {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeInterrupted
	case errors.Is(err, app.ErrSessionEnded):
		return OutcomeSessionEnded
	case errors.Is(err, app.ErrRealtimeReconnectExhausted):
		return OutcomeAbandoned
	default:
		return OutcomeFailed
	}
}

// Controller runs at most one live client at a time.
type Controller struct {
	rootCtx    context.Context
	newService func(config.Options, *logging.Logger, StartHooks) (Service, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runID   string
	lastErr error
}

type StartHooks struct {
	// Output receives notifications and redirects.
	Output   io.Writer
	OnStatus func(string)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	idle := make(chan struct{})
	close(idle)
	return &Controller{rootCtx: rootCtx, newService: NewServiceWithHooks, done: idle}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("live client is already running (run %s)", c.runID)
	}

	runID := uuid.NewString()
	service, err := c.newService(opts, logger, hooks)
	if err != nil {
		return fmt.Errorf("prepare live client: %w", err)
	}
	logger.Debug("live run starting",
		logging.Field("run_id", runID),
		logging.Field("base_url", opts.BaseURL),
		logging.Field("max_reauth_tries", opts.MaxReauthTries),
	)

	ctx, cancel := context.WithCancel(c.rootCtx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.runID = runID
	c.lastErr = nil

	go func() {
		defer close(done)
		defer cancel()
		runErr := service.RunContext(ctx)
		outcome := ClassifyExit(runErr)
		switch outcome {
		case OutcomeInterrupted:
			logger.Info("live run stopped", logging.Field("run_id", runID))
		case OutcomeSessionEnded:
			logger.Warn("live run ended: session removed by the server", logging.Field("run_id", runID))
		default:
			logger.Error("live run ended with error",
				logging.Field("run_id", runID),
				logging.Field("outcome", string(outcome)),
				logging.Field("error", runErr),
			)
		}

		c.mu.Lock()
		c.cancel = nil
		c.lastErr = runErr
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	}()
	return nil
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run has exited. A timeout of zero waits
// forever. It reports false if the timeout elapsed first.
func (c *Controller) Wait(timeout time.Duration) bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Err is the error the last finished run returned.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
