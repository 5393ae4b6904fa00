package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"membersonly-live/internal/auth"
	"membersonly-live/internal/config"
	"membersonly-live/internal/console"
	"membersonly-live/internal/errtrack"
	"membersonly-live/internal/logging"
	"membersonly-live/internal/metrics"
	"membersonly-live/internal/querycache"
	"membersonly-live/internal/realtime"
	"membersonly-live/internal/runstatus"
	"membersonly-live/internal/sse"
)

const trackerFlushTimeout = 2 * time.Second

type LiveApp struct {
	opts      config.Options
	endpoints config.APIEndpoints
	http      *http.Client
	out       io.Writer
	logger    *logging.Logger
	hooks     Callbacks
	status    runtimeStatusState

	// Zero values use the service defaults.
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

type Callbacks struct {
	OnStatusChange func(string)
	// OnCacheChange observes every invalidation and reset.
	OnCacheChange func(querycache.Change)
	// BeforeSend lets callers inspect error reports before delivery.
	BeforeSend errtrack.BeforeSendFunc
}

func New(opts config.Options, endpoints config.APIEndpoints, httpClient *http.Client, out io.Writer, logger *logging.Logger, hooks Callbacks) *LiveApp {
	if httpClient == nil {
		panic("app.New: http client must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if out == nil {
		out = io.Discard
	}
	return &LiveApp{opts: opts, endpoints: endpoints, http: httpClient, out: out, logger: logger, hooks: hooks}
}

func (a *LiveApp) Run() error {
	return a.RunContext(context.Background())
}

// RunContext keeps the live stream connected until ctx is done, the server
// ends the session, or stream recovery is abandoned.
func (a *LiveApp) RunContext(ctx context.Context) error {
	a.logger.Info("live client starting",
		logging.Field("api_base", a.endpoints.BaseURL),
		logging.Field("credentials_file", a.opts.CredentialsFile),
	)

	creds, err := a.loadCredentials()
	if err != nil {
		return err
	}
	if creds.AccessToken == "" {
		return ErrNotAuthenticated
	}

	tracker, err := errtrack.New(errtrack.Options{DSN: a.opts.SentryDSN, BeforeSend: a.hooks.BeforeSend}, a.logger)
	if err != nil {
		return err
	}
	defer tracker.Flush(trackerFlushTimeout)

	m := metrics.New()
	cache := querycache.New()
	cache.Subscribe(func(change querycache.Change) {
		if change.Kind == querycache.Reset {
			a.logger.Info("query cache reset")
		} else {
			a.logger.Debug("query cache invalidated", logging.Field("categories", change.Categories))
		}
		if a.hooks.OnCacheChange != nil {
			a.hooks.OnCacheChange(change)
		}
	})

	sessionEnded := make(chan string, 1)
	screen := console.New(a.out, a.logger, func(target string) {
		select {
		case sessionEnded <- target:
		default:
		}
	})

	store := auth.NewStore(a.logger)
	service := realtime.NewService(realtime.Options{
		EventsURL: a.endpoints.EventsURL,
		Stream: sse.Client{
			HTTP:       a.http,
			ForceHTTP1: a.opts.ForceHTTP1,
			Logger:     a.logger,
		},
		Refresher: auth.Refresher{
			HTTP:       a.http,
			RefreshURL: a.endpoints.RefreshURL,
			Store:      store,
			Logger:     a.logger,
		},
		Cache:          cache,
		Reporter:       tracker,
		Navigator:      screen,
		Notifier:       screen,
		Metrics:        m,
		MaxReauthTries: a.opts.MaxReauthTries,
		RetryDelay:     a.retryDelay,
		RetryMaxDelay:  a.retryMaxDelay,
		OnStateChange:  a.onStreamState,
	}, a.logger)
	service.Initialize(store)

	unsubscribe := store.Subscribe(func(snap auth.Snapshot) {
		a.persistCredentials(snap)
		if snap.Authenticated() {
			tracker.SetUser(snap.User.ID, snap.User.Username)
			a.setRuntimeStatus(runstatus.Authenticated)
			service.Start()
			return
		}
		service.Stop()
		a.setRuntimeStatus(runstatus.SignedOut)
	})

	var background sync.WaitGroup
	runCtx, cancelRun := context.WithCancel(ctx)
	defer func() {
		cancelRun()
		unsubscribe()
		service.Close()
		background.Wait()
	}()

	if addr := strings.TrimSpace(a.opts.MetricsAddr); addr != "" {
		background.Go(func() {
			if err := m.Serve(runCtx, addr, a.logger); err != nil {
				a.logger.Warn("metrics endpoint stopped", logging.Field("error", err))
			}
		})
	}
	if path := strings.TrimSpace(a.opts.CredentialsFile); path != "" {
		background.Go(func() {
			if err := auth.WatchCredentials(runCtx, path, store, a.logger); err != nil {
				a.logger.Warn("credentials watcher stopped", logging.Field("error", err))
			}
		})
	}

	store.SetTokens(creds.AccessToken, creds.RefreshToken)
	if !store.Authenticated() {
		return fmt.Errorf("%w: access token carries no user", ErrNotAuthenticated)
	}

	select {
	case <-ctx.Done():
		a.setRuntimeStatus(runstatus.Disconnected)
		a.logger.Info("live client stopped")
		return nil
	case err := <-service.Abandoned():
		a.setRuntimeStatus(runstatus.Abandoned)
		a.logger.Error("live stream abandoned; sign in again to resume", logging.Field("error", err))
		return fmt.Errorf("%w: %w", ErrRealtimeReconnectExhausted, err)
	case target := <-sessionEnded:
		a.setRuntimeStatus(runstatus.SignedOut)
		a.logger.Warn("session ended by the server", logging.Field("redirect", target))
		return ErrSessionEnded
	}
}

func (a *LiveApp) loadCredentials() (config.Credentials, error) {
	saved := config.Credentials{}
	if path := strings.TrimSpace(a.opts.CredentialsFile); path != "" {
		loaded, err := config.LoadCredentials(path)
		switch {
		case err == nil:
			saved = loaded
		case errors.Is(err, fs.ErrNotExist):
			a.logger.Debug("no saved credentials", logging.Field("path", path))
		default:
			return config.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
		}
	}
	return config.MergeCredentials(a.opts, saved), nil
}

func (a *LiveApp) persistCredentials(snap auth.Snapshot) {
	path := strings.TrimSpace(a.opts.CredentialsFile)
	if path == "" {
		return
	}
	err := config.SaveCredentials(path, config.Credentials{
		AccessToken:  snap.AccessToken,
		RefreshToken: snap.RefreshToken,
	})
	if err != nil {
		a.logger.Warn("failed to save credentials", logging.Field("error", err))
	}
}

func (a *LiveApp) onStreamState(state realtime.State) {
	switch state {
	case realtime.StateConnecting:
		a.setRuntimeStatus(runstatus.Connecting)
	case realtime.StateOpen:
		a.setRuntimeStatus(runstatus.Connected)
	case realtime.StateErroring:
		a.setRuntimeStatus(runstatus.Reconnecting)
	case realtime.StateClosed:
		a.setRuntimeStatus(runstatus.Disconnected)
	}
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (a *LiveApp) notifyStatus(status string) {
	if a.hooks.OnStatusChange == nil {
		return
	}
	a.hooks.OnStatusChange(status)
}

func (a *LiveApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	a.notifyStatus(status)
}
