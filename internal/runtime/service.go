package runtime

import (
	"context"
	"io"
	"net/http"
	"time"

	"membersonly-live/internal/app"
	"membersonly-live/internal/config"
	"membersonly-live/internal/logging"
)

const defaultHTTPTimeout = 10 * time.Second

type Service interface {
	RunContext(ctx context.Context) error
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("api_base", endpoints.BaseURL),
		logging.Field("events_url", endpoints.EventsURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
	)

	// The stream client lifts this timeout for the long-lived event stream.
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	var out io.Writer = io.Discard
	if hooks.Output != nil {
		out = hooks.Output
	}
	return app.New(opts, endpoints, httpClient, out, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
	}), nil
}
