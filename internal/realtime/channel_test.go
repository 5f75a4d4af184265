package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/safedrive/go-dispatch-client/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu     sync.Mutex
	in     chan Envelope
	out    []Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEnvelope() (Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return Envelope{}, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteEnvelope(env Envelope) error {
	c.mu.Lock()
	c.out = append(c.out, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.out...)
}

// fakeDialer fails the first failDials attempts, then hands out live conns.
type fakeDialer struct {
	mu        sync.Mutex
	failDials int
	dials     int
	conns     []*fakeConn
	tokens    []string
}

func (d *fakeDialer) Dial(_ context.Context, _, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if d.dials <= d.failDials {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		URL:            "ws://test",
		DialTimeout:    time.Second,
		MaxReconnects:  2,
		BackoffFloor:   time.Millisecond,
		BackoffCeiling: 4 * time.Millisecond,
	}
}

// watchStates funnels every state transition into a channel the test can
// block on.
func watchStates(c *Channel) <-chan ConnState {
	states := make(chan ConnState, 32)
	c.OnStateChange(func(s ConnState) { states <- s })
	return states
}

func awaitState(t *testing.T, states <-chan ConnState, want State) ConnState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestChannel_ConnectReachesConnected(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	ch.Connect(context.Background(), "tok-1")
	defer ch.Close()

	s := awaitState(t, states, Connected)
	if !s.Connected {
		t.Error("Connected flag should be set")
	}
	if s.ReconnectAttempt != 0 {
		t.Errorf("fresh connection should report attempt 0, got %d", s.ReconnectAttempt)
	}

	dialer.mu.Lock()
	token := dialer.tokens[0]
	dialer.mu.Unlock()
	if token != "tok-1" {
		t.Errorf("dial used token %q", token)
	}
}

func TestChannel_GivesUpAfterMaxReconnects(t *testing.T) {
	dialer := &fakeDialer{failDials: 1 << 30}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	ch.Connect(context.Background(), "tok")
	defer ch.Close()

	s := awaitState(t, states, Disconnected)
	if s.LastErr == nil {
		t.Fatal("terminal disconnect should carry the last error")
	}
	var cerr *ChannelError
	if !errors.As(s.LastErr, &cerr) {
		t.Errorf("expected *ChannelError, got %T", s.LastErr)
	}

	// MaxReconnects=2 means the third consecutive failure is terminal.
	if got := dialer.dialCount(); got != 3 {
		t.Errorf("expected 3 dial attempts, got %d", got)
	}
}

func TestChannel_AttemptResetsAfterSuccessfulDial(t *testing.T) {
	dialer := &fakeDialer{failDials: 2}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	ch.Connect(context.Background(), "tok")
	defer ch.Close()

	awaitState(t, states, Reconnecting)
	s := awaitState(t, states, Connected)
	if s.ReconnectAttempt != 0 {
		t.Errorf("attempt counter should reset on success, got %d", s.ReconnectAttempt)
	}
}

func TestChannel_ReconnectsAfterTransportLoss(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	ch.Connect(context.Background(), "tok")
	defer ch.Close()

	awaitState(t, states, Connected)
	dialer.lastConn().Close()

	awaitState(t, states, Reconnecting)
	awaitState(t, states, Connected)
	if got := dialer.dialCount(); got != 2 {
		t.Errorf("expected 2 dials, got %d", got)
	}
}

func TestChannel_DispatchPreservesOrder(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	ch.Subscribe(EventSystemNotification, func(data json.RawMessage) {
		var s string
		json.Unmarshal(data, &s)
		mu.Lock()
		got = append(got, s)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})

	ch.Connect(context.Background(), "tok")
	defer ch.Close()
	awaitState(t, states, Connected)

	conn := dialer.lastConn()
	for _, s := range []string{"a", "b", "c"} {
		data, _ := json.Marshal(s)
		conn.in <- Envelope{Event: EventSystemNotification, Data: data}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("events out of order: %v", got)
	}
}

func TestChannel_SubscribeIsIdempotentPerHandler(t *testing.T) {
	ch := NewChannel(testRealtimeConfig(), &fakeDialer{})

	calls := 0
	handler := func(json.RawMessage) { calls++ }
	ch.Subscribe(EventNewIncident, handler)
	ch.Subscribe(EventNewIncident, handler)

	ch.dispatch(Envelope{Event: EventNewIncident, Data: json.RawMessage(`{}`)})
	if calls != 1 {
		t.Errorf("duplicate subscription should collapse, got %d calls", calls)
	}
}

func TestChannel_DisposerRemovesOnlyItsHandler(t *testing.T) {
	ch := NewChannel(testRealtimeConfig(), &fakeDialer{})

	var first, second int
	dispose := ch.Subscribe(EventNewIncident, func(json.RawMessage) { first++ })
	ch.Subscribe(EventNewIncident, func(json.RawMessage) { second++ })

	dispose()
	ch.dispatch(Envelope{Event: EventNewIncident, Data: json.RawMessage(`{}`)})

	if first != 0 {
		t.Errorf("disposed handler fired %d times", first)
	}
	if second != 1 {
		t.Errorf("surviving handler should fire once, got %d", second)
	}
}

func TestChannel_UnsubscribeDropsAllHandlers(t *testing.T) {
	ch := NewChannel(testRealtimeConfig(), &fakeDialer{})

	calls := 0
	ch.Subscribe(EventNewIncident, func(json.RawMessage) { calls++ })
	ch.Subscribe(EventNewIncident, func(json.RawMessage) { calls += 10 })

	ch.Unsubscribe(EventNewIncident)
	ch.dispatch(Envelope{Event: EventNewIncident, Data: json.RawMessage(`{}`)})
	if calls != 0 {
		t.Errorf("handlers fired after Unsubscribe: %d", calls)
	}
}

func TestChannel_EmitDroppedWhenDisconnected(t *testing.T) {
	ch := NewChannel(testRealtimeConfig(), &fakeDialer{})

	// Must not panic or error when no session exists.
	ch.Emit(EventPanicButton, map[string]string{"driverId": "D1"})

	if got := ch.State().State; got != Disconnected {
		t.Errorf("emit must not change state, got %s", got)
	}
}

func TestChannel_EmitWritesEnvelopeWhenConnected(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	ch.Connect(context.Background(), "tok")
	defer ch.Close()
	awaitState(t, states, Connected)

	ch.Emit(EventStartTracking, map[string]string{"driverId": "D1"})

	writes := dialer.lastConn().writes()
	if len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writes))
	}
	if writes[0].Event != EventStartTracking {
		t.Errorf("wrong event: %s", writes[0].Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(writes[0].Data, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload["driverId"] != "D1" {
		t.Errorf("payload mismatch: %v", payload)
	}
}

func TestChannel_CloseDropsHandlers(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	calls := 0
	ch.Subscribe(EventNewIncident, func(json.RawMessage) { calls++ })

	ch.Connect(context.Background(), "tok")
	awaitState(t, states, Connected)
	ch.Close()

	ch.dispatch(Envelope{Event: EventNewIncident, Data: json.RawMessage(`{}`)})
	if calls != 0 {
		t.Errorf("handler survived Close: %d calls", calls)
	}
	if s := ch.State(); s.State != Disconnected {
		t.Errorf("expected Disconnected after Close, got %s", s.State)
	}
}

func TestChannel_ReconnectUsesFreshTokenAfterConnect(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewChannel(testRealtimeConfig(), dialer)
	states := watchStates(ch)

	ch.Connect(context.Background(), "tok-old")
	awaitState(t, states, Connected)

	ch.Connect(context.Background(), "tok-new")
	awaitState(t, states, Connected)
	defer ch.Close()

	dialer.mu.Lock()
	last := dialer.tokens[len(dialer.tokens)-1]
	dialer.mu.Unlock()
	if last != "tok-new" {
		t.Errorf("reconnect should use the rotated token, got %q", last)
	}
}
