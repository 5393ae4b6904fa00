package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"membersonly-live/internal/app"
	"membersonly-live/internal/config"
	"membersonly-live/internal/logging"
)

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) RunContext(ctx context.Context) error { return f(ctx) }

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func newTestController(run serviceFunc) *Controller {
	c := NewController(context.Background())
	c.newService = func(config.Options, *logging.Logger, StartHooks) (Service, error) {
		return run, nil
	}
	return c
}

func TestControllerStartStopAndWait(t *testing.T) {
	started := make(chan struct{})
	c := newTestController(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	exited := make(chan error, 1)
	if err := c.Start(config.Options{}, testLogger(), StartHooks{OnExit: func(err error) { exited <- err }}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-started
	if !c.IsRunning() {
		t.Fatalf("IsRunning() = false after Start")
	}
	if err := c.Start(config.Options{}, testLogger(), StartHooks{}); err == nil {
		t.Fatalf("second Start() succeeded while running")
	}

	if !c.StopAndWait(2 * time.Second) {
		t.Fatalf("StopAndWait() timed out")
	}
	if c.IsRunning() {
		t.Fatalf("IsRunning() = true after stop")
	}
	if err := <-exited; !errors.Is(err, context.Canceled) {
		t.Fatalf("OnExit error = %v, want context.Canceled", err)
	}
}

func TestControllerReportsServiceError(t *testing.T) {
	boom := errors.New("stream abandoned")
	c := newTestController(func(context.Context) error { return boom })

	exited := make(chan error, 1)
	if err := c.Start(config.Options{}, testLogger(), StartHooks{OnExit: func(err error) { exited <- err }}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.Wait(2 * time.Second) {
		t.Fatalf("Wait() timed out")
	}
	if err := <-exited; !errors.Is(err, boom) {
		t.Fatalf("OnExit error = %v, want %v", err, boom)
	}
}

func TestNewServiceValidatesOptions(t *testing.T) {
	if _, err := NewService(config.Options{}, testLogger()); err == nil {
		t.Fatalf("NewService() accepted empty options")
	}
	svc, err := NewService(config.Options{
		BaseURL:        "https://forum.example.test/some/page",
		AccessToken:    "token",
		MaxReauthTries: 5,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatalf("NewService() returned nil service")
	}
}

func TestControllerErrKeepsLastRunResult(t *testing.T) {
	c := newTestController(func(context.Context) error { return app.ErrSessionEnded })
	if err := c.Start(config.Options{}, testLogger(), StartHooks{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.Wait(2 * time.Second) {
		t.Fatalf("Wait() timed out")
	}
	if got := ClassifyExit(c.Err()); got != OutcomeSessionEnded {
		t.Fatalf("ClassifyExit(Err()) = %q, want %q", got, OutcomeSessionEnded)
	}
}

func TestWaitWithoutRunReturnsImmediately(t *testing.T) {
	c := NewController(context.Background())
	if !c.Wait(time.Millisecond) {
		t.Fatalf("Wait() on idle controller = false")
	}
	if c.Err() != nil {
		t.Fatalf("Err() on idle controller = %v", c.Err())
	}
}

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "clean", err: nil, want: OutcomeInterrupted},
		{name: "canceled", err: context.Canceled, want: OutcomeInterrupted},
		{name: "session ended", err: app.ErrSessionEnded, want: OutcomeSessionEnded},
		{name: "abandoned", err: fmt.Errorf("%w: %w", app.ErrRealtimeReconnectExhausted, errors.New("exhausted")), want: OutcomeAbandoned},
		{name: "other", err: errors.New("boom"), want: OutcomeFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyExit(tc.err); got != tc.want {
				t.Fatalf("ClassifyExit(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
