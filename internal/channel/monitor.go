// Package channel keeps the push-notification channel alive. It tracks
// whether the channel ever became healthy, reconnects silently after a
// failure of a healthy channel and escalates to a hard reset when the
// channel fails before the first heartbeat.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"taskdeck/internal/events"
)

const DefaultWatchdogInterval = 1000 * time.Millisecond

type State int

const (
	Connecting State = iota
	Healthy
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Healthy:
		return "healthy"
	default:
		return "closed"
	}
}

// ErrHardReset means the channel failed before it was ever healthy. The
// local view cannot be trusted and the whole client session has to start
// over.
var ErrHardReset = errors.New("push channel failed before first heartbeat")

// Conn is one open push channel.
type Conn interface {
	Events() <-chan events.Event
	// Done is closed when the channel ends. It may fire late; Closed is
	// polled as well.
	Done() <-chan struct{}
	Closed() bool
	Err() error
	Close() error
}

type Transport interface {
	Open(ctx context.Context) (Conn, error)
}

type TransportFunc func(ctx context.Context) (Conn, error)

func (f TransportFunc) Open(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Dispatcher receives validated events and performs resyncs.
type Dispatcher interface {
	ApplyEvent(ctx context.Context, ev events.Event) error
	Resync(ctx context.Context) error
}

type Options struct {
	WatchdogInterval time.Duration
	Logger           *slog.Logger
	OnHardReset      func(cause error)
	OnStateChange    func(State)
}

type Monitor struct {
	transport Transport
	dispatch  Dispatcher
	opts      Options
	logger    *slog.Logger

	mu         sync.RWMutex
	state      State
	reconnects int

	// Owned by the Run goroutine.
	conn       Conn
	generation uint64
	handled    uint64
	resync     bool
	hardReset  error
}

func NewMonitor(transport Transport, dispatch Dispatcher, opts Options) *Monitor {
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Monitor{
		transport: transport,
		dispatch:  dispatch,
		opts:      opts,
		logger:    logger,
		state:     Connecting,
	}
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Reconnects() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnects
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.logger.Debug("channel state", "state", s.String())
		if m.opts.OnStateChange != nil {
			m.opts.OnStateChange(s)
		}
	}
}

// Run owns the channel until ctx is done (returns nil) or a hard reset is
// required (returns an error wrapping ErrHardReset). Events, failures and
// watchdog ticks are all handled on this goroutine.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.WatchdogInterval)
	defer ticker.Stop()
	defer m.shutdown()

	m.open(ctx)
	for m.hardReset == nil {
		var (
			evCh   <-chan events.Event
			doneCh <-chan struct{}
		)
		gen := m.generation
		if m.conn != nil {
			evCh = m.conn.Events()
			doneCh = m.conn.Done()
		}
		select {
		case <-ctx.Done():
			return nil
		case ev := <-evCh:
			m.handleEvent(ctx, gen, ev)
		case <-doneCh:
			m.drain(ctx, gen)
			m.fail(ctx, gen, m.connErr("channel closed"))
		case <-ticker.C:
			m.watchdog(ctx)
		}
	}
	return m.hardReset
}

func (m *Monitor) open(ctx context.Context) {
	m.generation++
	m.setState(Connecting)
	conn, err := m.transport.Open(ctx)
	if err != nil {
		m.conn = nil
		m.fail(ctx, m.generation, fmt.Errorf("open channel: %w", err))
		return
	}
	m.conn = conn
}

func (m *Monitor) handleEvent(ctx context.Context, gen uint64, ev events.Event) {
	if gen != m.generation || ev == nil {
		return
	}
	if _, ok := ev.(events.Ping); ok {
		if m.State() != Connecting {
			return
		}
		m.setState(Healthy)
		if m.resync {
			m.resync = false
			if err := m.dispatch.Resync(ctx); err != nil {
				m.logger.Warn("resync after reconnect failed", "err", err)
			}
		}
		return
	}
	if err := m.dispatch.ApplyEvent(ctx, ev); err != nil {
		m.logger.Warn("apply event failed", "kind", string(ev.Kind()), "err", err)
	}
}

func (m *Monitor) watchdog(ctx context.Context) {
	if m.conn == nil || !m.conn.Closed() {
		return
	}
	gen := m.generation
	m.drain(ctx, gen)
	m.fail(ctx, gen, m.connErr("watchdog found channel closed"))
}

// drain handles the events a closed channel delivered before it ended. A
// heartbeat among them decides between reconnect and hard reset.
func (m *Monitor) drain(ctx context.Context, gen uint64) {
	if m.conn == nil || gen != m.generation {
		return
	}
	evCh := m.conn.Events()
	for {
		select {
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			m.handleEvent(ctx, gen, ev)
		default:
			return
		}
	}
}

// fail handles the failure of channel generation gen once; the error
// callback and the watchdog may both report the same failure.
func (m *Monitor) fail(ctx context.Context, gen uint64, cause error) {
	if gen != m.generation || gen == m.handled {
		return
	}
	m.handled = gen
	if ctx.Err() != nil {
		return
	}
	if m.State() == Healthy {
		m.logger.Info("channel lost, reconnecting", "err", cause)
		m.closeConn()
		m.mu.Lock()
		m.reconnects++
		m.mu.Unlock()
		m.resync = true
		m.open(ctx)
		return
	}
	m.logger.Warn("channel failed before first heartbeat", "err", cause)
	m.closeConn()
	m.setState(Closed)
	m.hardReset = fmt.Errorf("%w: %v", ErrHardReset, cause)
	if m.opts.OnHardReset != nil {
		m.opts.OnHardReset(m.hardReset)
	}
}

func (m *Monitor) connErr(reason string) error {
	if m.conn != nil {
		if err := m.conn.Err(); err != nil {
			return fmt.Errorf("%s: %w", reason, err)
		}
	}
	return errors.New(reason)
}

func (m *Monitor) closeConn() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("close channel failed", "err", err)
	}
	m.conn = nil
}

func (m *Monitor) shutdown() {
	m.closeConn()
	m.setState(Closed)
}
