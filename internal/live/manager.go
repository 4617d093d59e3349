// Package live owns the push-stream connection: connect, dispatch inbound
// envelopes, report state and reconnect after a fixed delay until stopped.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"screener/internal/domain"
)

// DefaultReconnectDelay is the pause between a close and the next attempt.
const DefaultReconnectDelay = 3 * time.Second

// Conn is one open stream connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens stream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler receives everything the manager produces. Calls are made from
// the manager's goroutine, one at a time.
type Handler interface {
	// HandleState is called on every state transition. err is the cause of
	// a transition to Closed, nil otherwise.
	HandleState(state domain.ConnectionState, err error)
	// HandleRows receives the full row batch of a market_update. The batch
	// replaces any previous one.
	HandleRows(rows []domain.Row)
	// HandleWelcome receives the informational welcome message.
	HandleWelcome(message string)
	// HandleDrop is told about every frame that was discarded.
	HandleDrop(err error)
}

// Options configures a Manager.
type Options struct {
	URL            string
	ReconnectDelay time.Duration

	// After schedules the reconnect timer; time.After when nil.
	After func(time.Duration) <-chan time.Time
}

// event drives the connection state machine.
type event int

const (
	evConnect  event = iota // start of an attempt
	evOpened                // dial succeeded
	evLost                  // dial failed, read failed or peer closed
	evTeardown              // explicit stop
)

// Manager is the live-feed connection manager. At most one connection is
// open at a time.
type Manager struct {
	url    string
	dialer Dialer
	h      Handler
	delay  time.Duration
	after  func(time.Duration) <-chan time.Time
	log    *slog.Logger

	state    atomic.Int32
	attempts atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a stopped manager.
func NewManager(dialer Dialer, opts Options, h Handler, log *slog.Logger) *Manager {
	m := &Manager{
		url:    opts.URL,
		dialer: dialer,
		h:      h,
		delay:  opts.ReconnectDelay,
		after:  opts.After,
		log:    log,
	}
	if m.delay <= 0 {
		m.delay = DefaultReconnectDelay
	}
	if m.after == nil {
		m.after = time.After
	}
	m.state.Store(int32(domain.Closed))
	return m
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	return domain.ConnectionState(m.state.Load())
}

// Attempts returns how many connection attempts have been made.
func (m *Manager) Attempts() int64 {
	return m.attempts.Load()
}

// Start begins connecting in the background. A manager that is already
// running is torn down first.
func (m *Manager) Start(ctx context.Context) {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(ctx, done)
}

// Stop closes the active connection, cancels a pending reconnect and waits
// for the manager's goroutine to exit. No attempt is made after Stop
// returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		m.transition(evConnect, nil)
		m.attempts.Add(1)

		conn, err := m.dialer.Dial(ctx, m.url)
		if err == nil {
			m.transition(evOpened, nil)
			err = m.read(ctx, conn)
		}
		if ctx.Err() != nil {
			m.transition(evTeardown, nil)
			return
		}
		m.transition(evLost, err)

		select {
		case <-ctx.Done():
			return
		case <-m.after(m.delay):
		}
	}
}

// transition applies ev to the state machine, logging and notifying the
// handler. It is the only place state changes.
func (m *Manager) transition(ev event, cause error) {
	switch ev {
	case evConnect:
		m.set(domain.Connecting, nil)
		m.log.Info("connecting to live feed", "url", m.url, "attempt", m.attempts.Load()+1)
	case evOpened:
		m.set(domain.Open, nil)
		m.log.Info("connected to live feed", "url", m.url)
	case evLost:
		m.set(domain.Closed, cause)
		m.log.Warn("live feed closed, reconnect scheduled", "url", m.url, "delay", m.delay, "error", cause)
	case evTeardown:
		m.set(domain.Closing, nil)
		m.set(domain.Closed, nil)
		m.log.Info("live feed stopped", "url", m.url)
	}
}

func (m *Manager) set(s domain.ConnectionState, cause error) {
	m.state.Store(int32(s))
	m.h.HandleState(s, cause)
}

// read dispatches frames until the connection fails or ctx is cancelled.
func (m *Manager) read(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if stop() {
			conn.Close()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading live feed: %w", err)
		}
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg []byte) {
	env, err := ParseEnvelope(msg)
	if err != nil {
		m.drop(err)
		return
	}
	switch env.Type {
	case TypeMarketUpdate:
		rows, err := env.Rows(m.log)
		if err != nil {
			m.drop(err)
			return
		}
		m.h.HandleRows(rows)
	case TypeWelcome:
		m.log.Info("live feed welcome", "message", env.Message)
		m.h.HandleWelcome(env.Message)
	default:
		m.drop(fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type))
	}
}

func (m *Manager) drop(err error) {
	if !errors.Is(err, ErrMalformed) {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m.log.Error("dropping live feed message", "error", err)
	m.h.HandleDrop(err)
}
