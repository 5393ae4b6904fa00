package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateErroring   State = "erroring"
	StateClosed     State = "closed"
)

var knownStates = []string{
	string(StateConnecting),
	string(StateOpen),
	string(StateErroring),
	string(StateClosed),
}

// connection is one stream handle: the token it was opened with, the URL it
// redials and its lifecycle state.
type connection struct {
	id     string
	token  string
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
}

func newConnection(parent context.Context, token string, streamURL string) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		id:     newConnectionID(),
		token:  token,
		url:    streamURL,
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
	}
}

func (c *connection) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *connection) close() {
	c.setState(StateClosed)
	c.cancel()
}

// newConnectionID tags log lines for one connection.
func newConnectionID() string {
	return uuid.NewString()
}
