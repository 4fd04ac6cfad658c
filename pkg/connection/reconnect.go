package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrManagerClosed     = errors.New("connection manager closed")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// DefaultAttemptTimeout bounds a single reopen attempt.
const DefaultAttemptTimeout = 30 * time.Second

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no live session.
	StateDisconnected State = iota

	// StateConnecting indicates a first connection attempt is in progress.
	StateConnecting

	// StateConnected indicates a live session.
	StateConnected

	// StateReconnecting indicates the backoff loop is retrying.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc opens a session. It returns nil once the session is live.
type ConnectFunc func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff sets the delays between retries.
func WithBackoff(cfg BackoffConfig) Option {
	return func(m *Manager) { m.backoffCfg = cfg }
}

// WithMaxAttempts bounds the retries after a loss. Zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithAttemptTimeout bounds each reopen attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(m *Manager) { m.attemptTimeout = d }
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager reopens a session with backoff after it is lost.
type Manager struct {
	mu sync.RWMutex

	state      State
	backoff    *Backoff
	backoffCfg BackoffConfig

	connectFn      ConnectFunc
	maxAttempts    int
	attemptTimeout time.Duration
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Signals that reconnection should start
	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onReconnecting func(attempt int, delay time.Duration)
	onGiveUp       func(attempts int, lastErr error)
}

// NewManager creates a stopped manager. Call Start to enable retries.
func NewManager(connectFn ConnectFunc, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		state:          StateDisconnected,
		backoffCfg:     DefaultBackoffConfig(),
		connectFn:      connectFn,
		attemptTimeout: DefaultAttemptTimeout,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.backoff = NewBackoffWithConfig(m.backoffCfg, m.maxAttempts)
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if a session is live.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect makes the first connection attempt. A failure leaves the manager
// disconnected; call ConnectionLost to retry with backoff.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}
	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(oldState, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	next := StateConnected
	if err != nil {
		next = StateDisconnected
	} else {
		m.backoff.Reset()
	}
	m.state = next
	m.mu.Unlock()

	m.notifyState(StateConnecting, next)
	return err
}

// ConnectionLost reports that the session went away. The manager retries
// with backoff. It has no effect while connecting, reconnecting or closed.
func (m *Manager) ConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateReconnecting
	m.mu.Unlock()

	m.notifyState(oldState, StateReconnecting)
	m.triggerReconnect()
}

// Start starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close stops retrying and waits for the loop to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyState(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

// Attempts returns the retries since the last successful connection.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Remaining returns the retries left before giving up, or -1 when the
// manager retries forever.
func (m *Manager) Remaining() int {
	return m.backoff.Remaining()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnReconnecting sets a callback invoked before each retry.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnGiveUp sets a callback invoked when MaxAttempts is exhausted.
func (m *Manager) OnGiveUp(fn func(attempts int, lastErr error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGiveUp = fn
}

func (m *Manager) notifyState(oldState, newState State) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect retries until connected, closed or out of attempts.
func (m *Manager) attemptReconnect() {
	var lastErr error
	for {
		m.mu.RLock()
		state := m.state
		onReconnecting := m.onReconnecting
		onGiveUp := m.onGiveUp
		m.mu.RUnlock()

		if state != StateReconnecting {
			return
		}

		spent := m.backoff.Attempts()
		delay, ok := m.backoff.Next()
		if !ok {
			m.mu.Lock()
			if m.state == StateReconnecting {
				m.state = StateDisconnected
			}
			m.mu.Unlock()
			m.notifyState(StateReconnecting, StateDisconnected)

			if lastErr == nil {
				lastErr = ErrAttemptsExhausted
			}
			if m.logger != nil {
				m.logger.Debug("giving up reconnect", "attempts", spent, "error", lastErr)
			}
			if onGiveUp != nil {
				onGiveUp(spent, lastErr)
			}
			return
		}

		attempt := spent + 1
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.State() != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.attemptTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.mu.Lock()
			if m.state != StateReconnecting {
				m.mu.Unlock()
				return
			}
			m.state = StateConnected
			m.backoff.Reset()
			m.mu.Unlock()

			m.notifyState(StateReconnecting, StateConnected)
			return
		}

		lastErr = err
		if m.logger != nil {
			m.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
		}
	}
}
