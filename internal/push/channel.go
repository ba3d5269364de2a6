// Package push maintains the long-lived subscription over which the backend
// unilaterally sends full job-collection snapshots. The client never writes;
// each inbound message replaces the working collection wholesale.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/taskbridge/taskbridge-client/internal/apperror"
	"github.com/taskbridge/taskbridge-client/internal/job"
)

// maxMessageSize bounds one pushed snapshot.
const maxMessageSize = 8 * 1024 * 1024

// State tracks the channel lifecycle: Closed -> Connecting -> Open -> Closed.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
)

// Sink receives full-collection replacements under a generation fence.
// *job.Store satisfies it.
type Sink interface {
	Generation() uint64
	ReplaceAll(gen uint64, records []job.Record) bool
}

// Channel is a single push subscription. A Channel is not reusable; create a
// fresh one per session from the reconnect loop.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	mu    sync.Mutex
	state State
}

// New creates a Channel for the given websocket URL.
func New(wsURL string, opts ...Option) *Channel {
	c := &Channel{
		url:    wsURL,
		dialer: websocket.DefaultDialer,
		state:  StateClosed,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// URL derives the push endpoint from an HTTP base URL.
func URL(base string) string {
	ws := base
	if strings.HasPrefix(base, "https") {
		ws = "wss" + strings.TrimPrefix(base, "https")
	} else if strings.HasPrefix(base, "http") {
		ws = "ws" + strings.TrimPrefix(base, "http")
	}
	return strings.TrimSuffix(ws, "/") + "/ws"
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run dials the push endpoint and applies every inbound snapshot to sink
// until the connection closes or ctx is cancelled. The generation is captured
// before each blocking read, so a snapshot read before a concurrent clear is
// fenced out instead of resurrecting cleared jobs. Returns nil on a clean
// close and a channel-classified error otherwise. Run never retries; the
// caller's reconnect loop decides when to open a new session.
func (c *Channel) Run(ctx context.Context, sink Sink) error {
	c.setState(StateConnecting)
	defer c.setState(StateClosed)

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return apperror.Wrap(apperror.Channel, "dial push channel", err)
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(maxMessageSize)

	c.setState(StateOpen)
	slog.Info("push channel open", "url", c.url)

	// Close the connection when ctx is cancelled so the blocked read returns
	// and no further store mutation happens.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		gen := sink.Generation()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("push channel closed")
				return nil
			}
			slog.Error("push channel dropped", "error", err)
			return apperror.Wrap(apperror.Channel, "push channel dropped", err)
		}

		var records []job.Record
		if err := json.Unmarshal(data, &records); err != nil {
			slog.Warn("invalid push payload", "error", err)
			continue
		}
		if !sink.ReplaceAll(gen, records) {
			slog.Debug("stale push suppressed", "generation", gen)
		}
	}
}
