package runstatus

import "strings"

const (
	Authenticated = "Authenticated"
	Connecting    = "Connecting"
	Connected     = "Connected"
	Reconnecting  = "Reconnecting"
	Disconnected  = "Disconnected"
	Abandoned     = "Disconnected (reauth exhausted)"
	SignedOut     = "Signed out"
)

const (
	KeyAuthenticated = "authenticated"
	KeyConnecting    = "connecting"
	KeyConnected     = "connected"
	KeyReconnecting  = "reconnecting"
	KeyDisconnected  = "disconnected"
	KeyAbandoned     = "disconnected (reauth exhausted)"
	KeySignedOut     = "signed out"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
