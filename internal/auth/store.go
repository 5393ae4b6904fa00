package auth

import (
	"strings"
	"sync"

	"membersonly-live/internal/logging"
)

// Snapshot is a consistent view of the auth state at one instant.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	User         User
}

func (s Snapshot) Authenticated() bool {
	return s.AccessToken != "" && s.User.ID != ""
}

// Store holds the process-wide session. Subscribers are notified outside
// the lock, in registration order, whenever the tokens change.
type Store struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	user         User
	nextID       int
	subscribers  map[int]func(Snapshot)
	order        []int
	logger       *logging.Logger
}

func NewStore(logger *logging.Logger) *Store {
	if logger == nil {
		panic("auth.NewStore: logger must not be nil")
	}
	return &Store{subscribers: map[int]func(Snapshot){}, logger: logger}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

func (s *Store) Authenticated() bool {
	return s.Snapshot().Authenticated()
}

func (s *Store) CurrentUser() (User, bool) {
	snap := s.Snapshot()
	return snap.User, snap.Authenticated()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{AccessToken: s.accessToken, RefreshToken: s.refreshToken, User: s.user}
}

// SetTokens replaces the session. An empty refresh token keeps the current
// one. An access token whose claims cannot be read leaves the store
// unauthenticated but still records it so the server can reject it.
func (s *Store) SetTokens(accessToken string, refreshToken string) {
	accessToken = strings.TrimSpace(accessToken)
	refreshToken = strings.TrimSpace(refreshToken)

	user := User{}
	if accessToken != "" {
		parsed, err := ParseUser(accessToken)
		if err != nil {
			s.logger.Warn("access token claims unreadable", logging.Field("error", err))
		} else {
			user = parsed
		}
	}

	s.mu.Lock()
	if refreshToken == "" {
		refreshToken = s.refreshToken
	}
	if accessToken == s.accessToken && refreshToken == s.refreshToken {
		s.mu.Unlock()
		return
	}
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.user = user
	s.mu.Unlock()

	s.logger.Debug("session tokens updated",
		logging.Field("user_id", user.ID),
		logging.Field("role", string(user.Role)),
	)
	s.notify()
}

// ClearCredentials signs the session out.
func (s *Store) ClearCredentials() {
	s.mu.Lock()
	if s.accessToken == "" && s.refreshToken == "" {
		s.mu.Unlock()
		return
	}
	s.accessToken = ""
	s.refreshToken = ""
	s.user = User{}
	s.mu.Unlock()

	s.logger.Info("session credentials cleared")
	s.notify()
}

func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		panic("auth.Store.Subscribe: callback must not be nil")
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	snap := Snapshot{AccessToken: s.accessToken, RefreshToken: s.refreshToken, User: s.user}
	callbacks := make([]func(Snapshot), 0, len(s.order))
	for _, id := range s.order {
		callbacks = append(callbacks, s.subscribers[id])
	}
	s.mu.RUnlock()

	for _, cb := range callbacks {
		cb(snap)
	}
}
