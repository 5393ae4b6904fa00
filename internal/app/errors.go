package app

import "errors"

var (
	ErrNotAuthenticated           = errors.New("no access token available")
	ErrRealtimeReconnectExhausted = errors.New("live stream reconnect exhausted")
	ErrSessionEnded               = errors.New("session ended by the server")
)
