package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"

	"membersonly-live/internal/auth/authtest"
	"membersonly-live/internal/config"
	"membersonly-live/internal/logging"
	"membersonly-live/internal/querycache"
	"membersonly-live/internal/realtime"
	"membersonly-live/internal/runstatus"
)

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, frame := range frames {
		_, _ = fmt.Fprint(w, frame)
	}
	w.(http.Flusher).Flush()
}

func newTestApp(t *testing.T, serverURL string, opts config.Options, out *bytes.Buffer, hooks Callbacks) *LiveApp {
	t.Helper()
	endpoints, err := config.BuildEndpoints(serverURL)
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	if opts.MaxReauthTries == 0 {
		opts.MaxReauthTries = config.DefaultMaxReauthTries
	}
	var w io.Writer = io.Discard
	if out != nil {
		w = out
	}
	a := New(opts, endpoints, &http.Client{Timeout: 5 * time.Second}, w, testLogger(), hooks)
	a.retryDelay = time.Millisecond
	a.retryMaxDelay = 5 * time.Millisecond
	return a
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) record(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *statusRecorder) has(status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.statuses, status)
}

func TestRunContext_DeletedByAdminEndsSession(t *testing.T) {
	token := authtest.Token(t, 7, "bob", "MEMBER")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("accessToken") != token {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		writeSSE(w,
			"event: message\ndata: {\"reason\":\"messageCreated\"}\n\n",
			"event: multiPurpose\ndata: {\"reason\":\"deletedByAdmin\",\"targetId\":7}\n\n",
		)
		<-r.Context().Done()
	}))
	defer server.Close()

	credsPath := filepath.Join(t.TempDir(), "credentials.json")
	if err := config.SaveCredentials(credsPath, config.Credentials{AccessToken: token, RefreshToken: "r1"}); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	var changes []querycache.Change
	var changesMu sync.Mutex
	statuses := &statusRecorder{}
	var out bytes.Buffer
	a := newTestApp(t, server.URL, config.Options{CredentialsFile: credsPath}, &out, Callbacks{
		OnStatusChange: statuses.record,
		OnCacheChange: func(change querycache.Change) {
			changesMu.Lock()
			changes = append(changes, change)
			changesMu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.RunContext(ctx)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("RunContext() error = %v, want ErrSessionEnded", err)
	}

	changesMu.Lock()
	defer changesMu.Unlock()
	if len(changes) != 2 || changes[0].Kind != querycache.Invalidated || changes[1].Kind != querycache.Reset {
		t.Fatalf("cache changes = %#v, want invalidation then reset", changes)
	}
	saved, err := config.LoadCredentials(credsPath)
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if saved.AccessToken != "" || saved.RefreshToken != "" {
		t.Fatalf("saved credentials = %#v, want cleared", saved)
	}
	if !strings.Contains(out.String(), "/?reason=deleted-by-admin") {
		t.Fatalf("console output = %q", out.String())
	}
	if !statuses.has(runstatus.Connected) || !statuses.has(runstatus.SignedOut) {
		t.Fatalf("statuses = %v", statuses.statuses)
	}
}

func TestRunContext_AbandonsAfterReauthBudget(t *testing.T) {
	token := authtest.Token(t, 7, "bob", "MEMBER")
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			http.Error(w, "jwt expired", http.StatusUnauthorized)
		case "/api/auth/refresh":
			refreshCalls.Add(1)
			http.Error(w, "refresh token revoked", http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	statuses := &statusRecorder{}
	a := newTestApp(t, server.URL, config.Options{
		AccessToken:    token,
		RefreshToken:   "r1",
		MaxReauthTries: 2,
	}, nil, Callbacks{OnStatusChange: statuses.record})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.RunContext(ctx)
	if !errors.Is(err, ErrRealtimeReconnectExhausted) || !errors.Is(err, realtime.ErrReconnectExhausted) {
		t.Fatalf("RunContext() error = %v, want reconnect exhausted", err)
	}
	if got := refreshCalls.Load(); got < 2 {
		t.Fatalf("refresh calls = %d, want at least 2", got)
	}
	if !statuses.has(runstatus.Abandoned) {
		t.Fatalf("statuses = %v, want %q", statuses.statuses, runstatus.Abandoned)
	}
}

func TestRunContext_RefreshRotatesStreamToken(t *testing.T) {
	stale := authtest.Token(t, 7, "bob", "MEMBER")
	fresh := authtest.Token(t, 7, "bob", "ADMIN")
	var gotCookie atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/events":
			if r.URL.Query().Get("accessToken") != fresh {
				http.Error(w, "jwt expired", http.StatusUnauthorized)
				return
			}
			writeSSE(w, "event: userList\ndata: {}\n\n")
			<-r.Context().Done()
		case "/api/auth/refresh":
			if cookie, err := r.Cookie("refreshToken"); err == nil {
				gotCookie.Store(cookie.Value)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": fresh, "refreshToken": "r2"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	credsPath := filepath.Join(t.TempDir(), "credentials.json")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var invalidated []querycache.Category
	a := newTestApp(t, server.URL, config.Options{
		CredentialsFile: credsPath,
		AccessToken:     stale,
		RefreshToken:    "r1",
	}, nil, Callbacks{
		OnCacheChange: func(change querycache.Change) {
			if change.Kind == querycache.Invalidated {
				invalidated = change.Categories
				cancel()
			}
		},
	})
	// One stale dial is enough; the refreshed token replaces the connection.
	a.retryDelay = 50 * time.Millisecond
	a.retryMaxDelay = 50 * time.Millisecond

	if err := a.RunContext(ctx); err != nil {
		t.Fatalf("RunContext() error = %v", err)
	}
	if !slices.Equal(invalidated, []querycache.Category{querycache.Users}) {
		t.Fatalf("invalidated = %v, want [users] for the admin token", invalidated)
	}
	if got, _ := gotCookie.Load().(string); got != "r1" {
		t.Fatalf("refresh cookie = %q, want r1", got)
	}
	saved, err := config.LoadCredentials(credsPath)
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if saved.AccessToken != fresh || saved.RefreshToken != "r2" {
		t.Fatalf("saved credentials = %#v", saved)
	}
}

func TestRunContext_ReportsInvalidEventPayload(t *testing.T) {
	token := authtest.Token(t, 7, "bob", "MEMBER")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "event: message\ndata: {\"reason\":[\"messageCreated\"]}\n\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reported []*sentry.Event
	var mu sync.Mutex
	a := newTestApp(t, server.URL, config.Options{
		AccessToken: token,
		SentryDSN:   "https://public@sentry.example.test/1",
	}, nil, Callbacks{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			reported = append(reported, event)
			mu.Unlock()
			cancel()
			return nil
		},
	})

	if err := a.RunContext(ctx); err != nil {
		t.Fatalf("RunContext() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("reported events = %d, want 1", len(reported))
	}
	if reported[0].Contexts["stream"]["event"] != "message" {
		t.Fatalf("report context = %#v", reported[0].Contexts)
	}
	if reported[0].User.ID != "7" {
		t.Fatalf("report user = %#v, want id 7", reported[0].User)
	}
}

func TestRunContext_WithoutCredentialsFails(t *testing.T) {
	a := newTestApp(t, "https://forum.example.test", config.Options{
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	}, nil, Callbacks{})

	if err := a.RunContext(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("RunContext() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestRunContext_UnreadableTokenFails(t *testing.T) {
	a := newTestApp(t, "https://forum.example.test", config.Options{AccessToken: "not-a-jwt"}, nil, Callbacks{})

	if err := a.RunContext(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("RunContext() error = %v, want ErrNotAuthenticated", err)
	}
}
