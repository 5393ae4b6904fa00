// Package errtrack forwards handled failures to Sentry.
package errtrack

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"membersonly-live/internal/logging"
)

// BeforeSendFunc may inspect or drop events before they leave the process.
type BeforeSendFunc = func(*sentry.Event, *sentry.EventHint) *sentry.Event

type Options struct {
	DSN         string
	Release     string
	Environment string
	BeforeSend  BeforeSendFunc
}

// Tracker owns a private Sentry hub. An empty DSN gives a tracker whose
// captures are discarded.
type Tracker struct {
	hub    *sentry.Hub
	logger *logging.Logger
}

func New(opts Options, logger *logging.Logger) (*Tracker, error) {
	if logger == nil {
		panic("errtrack.New: logger must not be nil")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Release:     opts.Release,
		Environment: opts.Environment,
		BeforeSend:  opts.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize sentry client: %w", err)
	}
	if opts.DSN == "" {
		logger.Debug("error tracking disabled: no DSN configured")
	}
	return &Tracker{hub: sentry.NewHub(client, sentry.NewScope()), logger: logger}, nil
}

// ReportException captures err with extra context attached. It never blocks
// on delivery.
func (t *Tracker) ReportException(err error, extra map[string]any) {
	if t == nil || err == nil {
		return
	}
	t.hub.WithScope(func(scope *sentry.Scope) {
		if len(extra) > 0 {
			scope.SetContext("stream", sentry.Context(extra))
		}
		if id := t.hub.CaptureException(err); id != nil {
			t.logger.Debug("exception reported", logging.Field("sentry_event_id", string(*id)))
		}
	})
}

func (t *Tracker) SetUser(id string, username string) {
	if t == nil {
		return
	}
	t.hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: id, Username: username})
	})
}

func (t *Tracker) ClearUser() {
	if t == nil {
		return
	}
	t.hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{})
	})
}

func (t *Tracker) Flush(timeout time.Duration) bool {
	if t == nil {
		return true
	}
	return t.hub.Flush(timeout)
}
