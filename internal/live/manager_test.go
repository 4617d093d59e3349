package live

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener/internal/domain"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
	d      *fakeDialer
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, m, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.d.open.Add(-1)
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	fail error

	dials   atomic.Int32
	open    atomic.Int32
	maxOpen atomic.Int32

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	if d.fail != nil {
		return nil, d.fail
	}
	c := &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{}), d: d}
	n := d.open.Add(1)
	for {
		cur := d.maxOpen.Load()
		if n <= cur || d.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeClock struct {
	mu        sync.Mutex
	scheduled []time.Duration
	fire      chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{fire: make(chan time.Time)}
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.scheduled = append(f.scheduled, d)
	f.mu.Unlock()
	return f.fire
}

func (f *fakeClock) delay(i int) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled[i]
}

func (f *fakeClock) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

type recorder struct {
	mu       sync.Mutex
	states   []domain.ConnectionState
	causes   []error
	batches  [][]domain.Row
	welcomes []string
	drops    []error
}

func (r *recorder) HandleState(s domain.ConnectionState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.causes = append(r.causes, err)
}

func (r *recorder) HandleRows(rows []domain.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, rows)
}

func (r *recorder) HandleWelcome(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.welcomes = append(r.welcomes, msg)
}

func (r *recorder) HandleDrop(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, err)
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:   append([]domain.ConnectionState(nil), r.states...),
		causes:   append([]error(nil), r.causes...),
		batches:  append([][]domain.Row(nil), r.batches...),
		welcomes: append([]string(nil), r.welcomes...),
		drops:    append([]error(nil), r.drops...),
	}
}

func newTestManager(d Dialer, clock *fakeClock, rec *recorder) *Manager {
	return NewManager(d, Options{URL: "ws://feed", After: clock.After}, rec, quietLogger())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestManagerReconnectsOnceAfterClose(t *testing.T) {
	d := &fakeDialer{}
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestManager(d, clock, rec)

	m.Start(context.Background())
	defer m.Stop()
	require.Eventually(t, func() bool { return m.State() == domain.Open }, waitFor, tick)

	close(d.conn(0).msgs) // peer closes

	require.Eventually(t, func() bool { return clock.count() == 1 }, waitFor, tick)
	assert.Equal(t, DefaultReconnectDelay, clock.delay(0))
	assert.Equal(t, int32(1), d.dials.Load(), "no attempt before the delay elapses")
	assert.Equal(t, domain.Closed, m.State())

	clock.fire <- time.Now()
	require.Eventually(t, func() bool { return d.dials.Load() == 2 && m.State() == domain.Open }, waitFor, tick)
	assert.Equal(t, 1, clock.count())
	assert.Equal(t, int64(2), m.Attempts())
}

func TestManagerStopBeforeReconnectPreventsAttempt(t *testing.T) {
	d := &fakeDialer{}
	clock := newFakeClock()
	m := newTestManager(d, clock, &recorder{})

	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.State() == domain.Open }, waitFor, tick)
	close(d.conn(0).msgs)
	require.Eventually(t, func() bool { return clock.count() == 1 }, waitFor, tick)

	m.Stop()

	select {
	case clock.fire <- time.Now():
		t.Fatal("reconnect timer still awaited after Stop")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, domain.Closed, m.State())
}

func TestManagerDialFailureSchedulesReconnect(t *testing.T) {
	d := &fakeDialer{fail: errors.New("connection refused")}
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestManager(d, clock, rec)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return clock.count() == 1 }, waitFor, tick)
	m.Stop()

	got := rec.snapshot()
	require.Len(t, got.states, 2)
	assert.Equal(t, domain.Connecting, got.states[0])
	assert.Equal(t, domain.Closed, got.states[1])
	assert.ErrorContains(t, got.causes[1], "connection refused")
}

func TestManagerStopClosesConnection(t *testing.T) {
	d := &fakeDialer{}
	clock := newFakeClock()
	rec := &recorder{}
	m := newTestManager(d, clock, rec)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.State() == domain.Open }, waitFor, tick)
	m.Stop()

	assert.True(t, d.conn(0).isClosed())
	assert.Equal(t, int32(0), d.open.Load())
	assert.Equal(t, 0, clock.count(), "teardown must not schedule a reconnect")

	got := rec.snapshot()
	assert.Equal(t, []domain.ConnectionState{
		domain.Connecting, domain.Open, domain.Closing, domain.Closed,
	}, got.states)

	m.Stop() // idempotent
}

func TestManagerRestartKeepsSingleConnection(t *testing.T) {
	d := &fakeDialer{}
	clock := newFakeClock()
	m := newTestManager(d, clock, &recorder{})

	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.State() == domain.Open }, waitFor, tick)
	m.Start(context.Background())
	require.Eventually(t, func() bool { return d.dials.Load() == 2 && m.State() == domain.Open }, waitFor, tick)

	assert.True(t, d.conn(0).isClosed())
	assert.Equal(t, int32(1), d.maxOpen.Load())
	m.Stop()
	assert.Equal(t, int32(0), d.open.Load())
}

func TestManagerDispatch(t *testing.T) {
	d := &fakeDialer{}
	rec := &recorder{}
	m := newTestManager(d, newFakeClock(), rec)

	m.Start(context.Background())
	defer m.Stop()
	require.Eventually(t, func() bool { return m.State() == domain.Open }, waitFor, tick)

	c := d.conn(0)
	c.msgs <- []byte(`{"type":"welcome","message":"hello"}`)
	c.msgs <- []byte(`{not json`)
	c.msgs <- []byte(`{"type":"heartbeat"}`)
	c.msgs <- []byte(`{"type":"market_update","data":[{"Symbol":"BINANCE:BTCUSDT","Price":105},{"Price":1}]}`)
	c.msgs <- []byte(`{"type":"market_update","data":{"oops":true}}`)
	c.msgs <- []byte(`{"type":"market_update","data":[{"symbol":"ETHUSDT","price":"3000.5"}]}`)

	require.Eventually(t, func() bool { return len(rec.snapshot().batches) == 2 }, waitFor, tick)
	got := rec.snapshot()

	assert.Equal(t, []string{"hello"}, got.welcomes)
	require.Len(t, got.drops, 3)
	for _, err := range got.drops {
		assert.ErrorIs(t, err, ErrMalformed)
	}

	require.Len(t, got.batches[0], 1, "rows without a symbol are dropped")
	assert.Equal(t, domain.Some(105), got.batches[0][0].Price)
	require.Len(t, got.batches[1], 1)
	assert.Equal(t, "ETHUSDT", got.batches[1][0].Symbol)
	assert.Equal(t, domain.Some(3000.5), got.batches[1][0].Price)
	assert.Equal(t, domain.Open, m.State(), "malformed frames do not close the connection")
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"welcome","message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeWelcome, env.Type)
	assert.Equal(t, "hi", env.Message)

	_, err = ParseEnvelope([]byte(`{"message":"no type"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	env, err = ParseEnvelope([]byte(`{"type":"market_update"}`))
	require.NoError(t, err)
	_, err = env.Rows(quietLogger())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWebsocketDialerEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{"type": "welcome", "message": "connected"})
		conn.WriteJSON(map[string]any{
			"type": "market_update",
			"data": []map[string]any{{"Symbol": "BTCUSDT", "Price": 101.5, "Change %": 1.2}},
		})
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewManager(NewWebsocketDialer(time.Second), Options{URL: url}, rec, quietLogger())
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot().batches) == 1 }, waitFor, tick)
	got := rec.snapshot()
	assert.Equal(t, []string{"connected"}, got.welcomes)
	assert.Equal(t, domain.Some(101.5), got.batches[0][0].Price)
	assert.Equal(t, domain.Some(1.2), got.batches[0][0].ChangePercent)
}
