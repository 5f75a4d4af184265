package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/config"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnState is a point-in-time snapshot of the connection.
type ConnState struct {
	State            State
	Connected        bool
	ReconnectAttempt int
	LastErr          error
}

type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Envelope is the wire frame: a named event plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is a single established duplex connection. ReadEnvelope blocks until
// a frame arrives or the transport fails; frames are delivered in the order
// the server sent them.
type Conn interface {
	ReadEnvelope() (Envelope, error)
	WriteEnvelope(Envelope) error
	Close() error
}

// Dialer opens the transport with the token attached to the handshake.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

type Handler func(data json.RawMessage)

// Channel owns the single realtime connection for an authenticated session:
// connect, bounded-backoff reconnect, and a typed emit/subscribe surface.
// A token rotation closes the transport and reopens it; the connection is
// never mutated in place.
type Channel struct {
	cfg    config.RealtimeConfig
	dialer Dialer

	mu        sync.Mutex
	state     State
	conn      Conn
	token     string
	attempt   int
	lastErr   error
	cancel    context.CancelFunc
	handlers  map[string]map[uintptr]Handler
	stateSubs []func(ConnState)
	wg        sync.WaitGroup
}

func NewChannel(cfg config.RealtimeConfig, dialer Dialer) *Channel {
	return &Channel{
		cfg:      cfg,
		dialer:   dialer,
		handlers: make(map[string]map[uintptr]Handler),
	}
}

// State returns a snapshot of the connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnState{
		State:            c.state,
		Connected:        c.state == Connected,
		ReconnectAttempt: c.attempt,
		LastErr:          c.lastErr,
	}
}

// OnStateChange registers a hook invoked after every state transition.
func (c *Channel) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.stateSubs = append(c.stateSubs, fn)
	c.mu.Unlock()
}

func (c *Channel) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	if err != nil {
		c.lastErr = err
	}
	snap := ConnState{
		State:            s,
		Connected:        s == Connected,
		ReconnectAttempt: c.attempt,
		LastErr:          c.lastErr,
	}
	subs := make([]func(ConnState), len(c.stateSubs))
	copy(subs, c.stateSubs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Connect opens the transport for the given token. Calling Connect while a
// session is live tears the old one down first; a fresh token therefore gets
// a fresh handshake.
func (c *Channel) Connect(ctx context.Context, token string) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	sessCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.token = token
	c.attempt = 0
	c.lastErr = nil
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(sessCtx, token)
}

func (c *Channel) run(ctx context.Context, token string) {
	defer c.wg.Done()

	c.setState(Connecting, nil)
	for {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, err := c.dialer.Dial(dialCtx, c.cfg.URL, token)
		cancel()

		if err == nil {
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.conn = conn
			c.attempt = 0
			c.mu.Unlock()
			c.setState(Connected, nil)
			slog.Info("realtime connected", "url", c.cfg.URL)

			err = c.readLoop(ctx, conn)

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
		}

		if ctx.Err() != nil {
			return
		}

		cerr := &ChannelError{Op: "transport", Err: err}
		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()

		if attempt > c.cfg.MaxReconnects {
			// Terminal for this session; the caller must re-authenticate.
			slog.Error("realtime gave up reconnecting", "attempts", attempt-1, "error", err)
			c.setState(Disconnected, cerr)
			return
		}

		delay := c.backoff(attempt)
		slog.Warn("realtime transport lost", "attempt", attempt, "retry_in", delay, "error", err)
		c.setState(Reconnecting, cerr)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoff doubles from the floor per attempt, bounded by the ceiling, so a
// fleet of clients does not stampede the server after an outage.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffFloor
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffCeiling {
			return c.cfg.BackoffCeiling
		}
	}
	if d > c.cfg.BackoffCeiling {
		return c.cfg.BackoffCeiling
	}
	return d
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.dispatch(env)
	}
}

// dispatch runs handlers on the read goroutine, preserving the server's
// per-connection event order.
func (c *Channel) dispatch(env Envelope) {
	c.mu.Lock()
	set := c.handlers[env.Event]
	hs := make([]Handler, 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	if len(hs) == 0 {
		slog.Debug("unhandled event", "event", env.Event)
		return
	}
	for _, h := range hs {
		h(env.Data)
	}
}

// Subscribe registers handler for the named event and returns a disposer.
// Re-subscribing the identical (event, handler) pair is idempotent: exactly
// one registration stays active.
func (c *Channel) Subscribe(event string, handler Handler) (unsubscribe func()) {
	key := reflect.ValueOf(handler).Pointer()

	c.mu.Lock()
	set, ok := c.handlers[event]
	if !ok {
		set = make(map[uintptr]Handler)
		c.handlers[event] = set
	}
	set[key] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if set, ok := c.handlers[event]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.handlers, event)
			}
		}
		c.mu.Unlock()
	}
}

// Unsubscribe drops every handler registered for the event.
func (c *Channel) Unsubscribe(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// Emit sends a named event. Emission is best-effort: when the channel is not
// connected the event is dropped with a warning, never an error, and callers
// must not assume delivery either way.
func (c *Channel) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("emit marshal failed", "event", event, "error", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		slog.Warn("emit dropped, not connected", "event", event, "state", state.String())
		return
	}

	if err := conn.WriteEnvelope(Envelope{Event: event, Data: data}); err != nil {
		slog.Warn("emit write failed", "event", event, "error", err)
	}
}

// Close tears the session down: the transport is closed, every handler is
// dropped, and a fresh Connect is required to resume.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.handlers = make(map[string]map[uintptr]Handler)
	c.attempt = 0
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(Disconnected, nil)
}
