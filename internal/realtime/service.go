// Package realtime keeps the forum's live event stream connected for the
// signed-in user and turns its events into cache and session actions.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"membersonly-live/internal/auth"
	"membersonly-live/internal/events"
	"membersonly-live/internal/logging"
	"membersonly-live/internal/metrics"
	"membersonly-live/internal/querycache"
	"membersonly-live/internal/sse"
)

const (
	DefaultMaxReauthTries = 5
	defaultRetryDelay     = time.Second
	defaultRetryMaxDelay  = 30 * time.Second
)

// ErrReconnectExhausted reports that stream recovery stopped after the
// reauthentication budget ran out.
var ErrReconnectExhausted = errors.New("realtime reconnect attempts exhausted")

// SessionSource is the shared auth state the service reads tokens and the
// current user from.
type SessionSource interface {
	Token() string
	CurrentUser() (auth.User, bool)
	ClearCredentials()
}

type StreamRunner interface {
	Run(ctx context.Context, url string, handlers sse.Handlers) error
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

type Cache interface {
	Invalidate(categories ...querycache.Category)
	ResetAll()
}

type Reporter interface {
	ReportException(err error, extra map[string]any)
	ClearUser()
}

type Navigator interface {
	Redirect(path string, reason string)
}

type Notifier interface {
	Notify(message string)
}

type Options struct {
	EventsURL string
	Stream    StreamRunner
	Refresher Refresher
	Cache     Cache
	Reporter  Reporter
	Navigator Navigator
	Notifier  Notifier
	Metrics   *metrics.Metrics

	MaxReauthTries int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration

	// OnAbandoned runs once each time recovery is given up.
	OnAbandoned func(error)
	// OnStateChange runs after every connection state transition.
	OnStateChange func(State)
}

type Service struct {
	eventsURL      string
	stream         StreamRunner
	refresher      Refresher
	cache          Cache
	reporter       Reporter
	navigator      Navigator
	notifier       Notifier
	metrics        *metrics.Metrics
	maxReauthTries int
	retryDelay     time.Duration
	retryMaxDelay  time.Duration
	onAbandoned    func(error)
	onStateChange  func(State)
	logger         *logging.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	abandoned  chan error

	mu          sync.Mutex
	session     SessionSource
	current     *connection
	reauthTries int
	// opens counts successful opens so a refresh can tell whether a
	// replacement connection opened while it ran.
	opens  uint64
	closed bool
}

func NewService(opts Options, logger *logging.Logger) *Service {
	if logger == nil {
		panic("realtime.NewService: logger must not be nil")
	}
	if opts.Stream == nil || opts.Refresher == nil || opts.Cache == nil {
		panic("realtime.NewService: stream, refresher and cache are required")
	}
	maxTries := opts.MaxReauthTries
	if maxTries <= 0 {
		maxTries = DefaultMaxReauthTries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	retryMaxDelay := opts.RetryMaxDelay
	if retryMaxDelay < retryDelay {
		retryMaxDelay = max(defaultRetryMaxDelay, retryDelay)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		eventsURL:      opts.EventsURL,
		stream:         opts.Stream,
		refresher:      opts.Refresher,
		cache:          opts.Cache,
		reporter:       orNopReporter(opts.Reporter),
		navigator:      orNopNavigator(opts.Navigator),
		notifier:       orNopNotifier(opts.Notifier),
		metrics:        opts.Metrics,
		maxReauthTries: maxTries,
		retryDelay:     retryDelay,
		retryMaxDelay:  retryMaxDelay,
		onAbandoned:    opts.OnAbandoned,
		onStateChange:  opts.OnStateChange,
		logger:         logger,
		baseCtx:        baseCtx,
		cancelBase:     cancel,
		abandoned:      make(chan error, 1),
	}
}

// Initialize records the auth state handle. Later calls are ignored.
func (s *Service) Initialize(session SessionSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.logger.Debug("realtime service already initialized")
		return
	}
	s.session = session
	s.logger.Debug("realtime service initialized")
}

// Start opens the stream for the current token. It is a no-op while a
// connection for that token is connecting or open, and replaces a
// connection opened with an older token or one that is erroring.
func (s *Service) Start() {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		s.logger.Warn("realtime start skipped: service not initialized")
		return
	}
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("realtime start skipped: service closed")
		return
	}
	token := s.session.Token()
	if _, ok := s.session.CurrentUser(); !ok || token == "" {
		s.mu.Unlock()
		s.logger.Info("realtime start skipped: not authenticated")
		return
	}

	var replaced *connection
	if cur := s.current; cur != nil {
		state := cur.getState()
		if cur.token == token && (state == StateConnecting || state == StateOpen) {
			s.mu.Unlock()
			s.logger.Debug("realtime stream already active", logging.Field("conn_id", cur.id))
			return
		}
		replaced = cur
		replaced.close()
		s.current = nil
	}

	streamURL, err := buildStreamURL(s.eventsURL, token)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("realtime start failed: invalid events url", logging.Field("error", err))
		return
	}
	conn := newConnection(s.baseCtx, token, streamURL)
	s.current = conn
	s.wg.Add(1)
	s.mu.Unlock()

	if replaced != nil {
		reason := "token rotated"
		if replaced.token == token {
			reason = "connection erroring"
		}
		s.logger.Info("replacing realtime stream",
			logging.Field("reason", reason),
			logging.Field("old_conn_id", replaced.id),
			logging.Field("conn_id", conn.id),
		)
	} else {
		s.logger.Info("starting realtime stream", logging.Field("conn_id", conn.id))
	}
	s.publishState(StateConnecting)
	go s.runConnection(conn)
}

// Stop closes the active connection. It does not wait for the reader
// goroutine and does not cancel refreshes already in flight.
func (s *Service) Stop() {
	s.mu.Lock()
	conn := s.current
	if conn == nil {
		s.mu.Unlock()
		s.logger.Debug("realtime stop skipped: no active stream")
		return
	}
	s.current = nil
	conn.close()
	s.mu.Unlock()

	s.logger.Info("realtime stream stopped", logging.Field("conn_id", conn.id))
	s.publishState(StateClosed)
}

// Close stops the stream and waits for every goroutine the service started.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	s.cancelBase()
	s.wg.Wait()
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return StateClosed
	}
	return s.current.getState()
}

func (s *Service) ReauthTries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reauthTries
}

// Abandoned delivers ErrReconnectExhausted when recovery is given up.
func (s *Service) Abandoned() <-chan error {
	return s.abandoned
}

func (s *Service) runConnection(conn *connection) {
	defer s.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.retryDelay
	retry.MaxInterval = s.retryMaxDelay
	retry.Reset()

	// The same URL is redialed until the connection is replaced, stopped or
	// abandoned, the way a browser event source reconnects.
	_, err := backoff.Retry(conn.ctx, func() (struct{}, error) {
		opened := false
		runErr := s.stream.Run(conn.ctx, conn.url, sse.Handlers{
			OnOpen: func() {
				opened = true
				s.handleOpen(conn)
			},
			OnEvent: func(event sse.Event) {
				s.dispatch(conn, event)
			},
		})
		if opened {
			retry.Reset()
		}
		if conn.ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(conn.ctx.Err())
		}
		if runErr == nil {
			runErr = io.EOF
		}
		if !s.handleError(conn, runErr) {
			return struct{}{}, backoff.Permanent(ErrReconnectExhausted)
		}
		return struct{}{}, runErr
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("redialing realtime stream",
				logging.Field("conn_id", conn.id),
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
			)
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrReconnectExhausted) {
		s.logger.Warn("realtime stream loop ended", logging.Field("conn_id", conn.id), logging.Field("error", err))
		return
	}
	s.logger.Debug("realtime stream loop ended", logging.Field("conn_id", conn.id))
}

func (s *Service) handleOpen(conn *connection) {
	s.mu.Lock()
	if s.current != conn {
		s.mu.Unlock()
		return
	}
	conn.setState(StateOpen)
	previous := s.reauthTries
	s.reauthTries = 0
	s.opens++
	s.mu.Unlock()

	s.metrics.ConnectionOpened()
	s.logger.Info("realtime stream open",
		logging.Field("conn_id", conn.id),
		logging.Field("reauth_tries_reset_from", previous),
	)
	s.publishState(StateOpen)
}

func (s *Service) dispatch(conn *connection, raw sse.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("routing %s event panicked: %v", raw.Name, r)
			s.metrics.EventDropped("panic")
			s.logger.Error("realtime event handler panicked",
				logging.Field("event", raw.Name),
				logging.Field("error", err),
			)
			s.reporter.ReportException(err, map[string]any{"event": raw.Name, "raw": string(raw.Data)})
		}
	}()

	if !s.isCurrent(conn) {
		return
	}
	s.metrics.EventReceived(raw.Name)

	event, err := events.Decode(raw.Name, raw.Data)
	if err != nil {
		var decodeErr *events.DecodeError
		switch {
		case errors.Is(err, events.ErrUnknownEvent):
			s.metrics.EventDropped("unknown")
			s.logger.Warn("ignoring unknown realtime event", logging.Field("event", raw.Name))
		case errors.As(err, &decodeErr):
			s.metrics.EventDropped("decode")
			s.logger.Error("dropping invalid realtime event",
				logging.Field("event", raw.Name),
				logging.Field("error", err),
				logging.Field("raw", logging.FormatPayload(raw.Data)),
			)
			s.reporter.ReportException(err, map[string]any{"event": raw.Name, "raw": string(raw.Data)})
		default:
			s.metrics.EventDropped("decode")
			s.logger.Error("dropping realtime event", logging.Field("event", raw.Name), logging.Field("error", err))
		}
		return
	}

	viewer := auth.User{}
	if session := s.sessionSource(); session != nil {
		viewer, _ = session.CurrentUser()
	}
	s.execute(event, Plan(event, viewer))
}

func (s *Service) isCurrent(conn *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == conn && conn.ctx.Err() == nil
}

func (s *Service) sessionSource() SessionSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) publishState(state State) {
	s.metrics.SetConnectionState(string(state), knownStates)
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}

func buildStreamURL(eventsURL string, token string) (string, error) {
	parsed, err := url.Parse(eventsURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("events url %q is not absolute", eventsURL)
	}
	query := parsed.Query()
	query.Set("accessToken", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type nopReporter struct{}

func (nopReporter) ReportException(error, map[string]any) {}
func (nopReporter) ClearUser()                            {}

type nopNavigator struct{}

func (nopNavigator) Redirect(string, string) {}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

func orNopReporter(r Reporter) Reporter {
	if r == nil {
		return nopReporter{}
	}
	return r
}

func orNopNavigator(n Navigator) Navigator {
	if n == nil {
		return nopNavigator{}
	}
	return n
}

func orNopNotifier(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
