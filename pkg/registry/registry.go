package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/TripleSpeeder/frame/pkg/connection"
	"github.com/TripleSpeeder/frame/pkg/session"
)

// Registry errors.
var (
	ErrRegistryClosed = errors.New("registry closed")
	ErrDeviceExists   = errors.New("device already registered")
	ErrUnknownDevice  = errors.New("unknown device")
)

// Listener receives events from all sessions.
type Listener interface {
	HandleEvent(ev session.Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev session.Event)

// HandleEvent calls f(ev).
func (f ListenerFunc) HandleEvent(ev session.Event) { f(ev) }

// Config configures a Registry.
type Config struct {
	// Session is the template for every session. Provider and AppFactory
	// are required.
	Session session.Config

	// MaxReconnectAttempts bounds reopen attempts after a loss.
	// Zero retries until the device is removed.
	MaxReconnectAttempts int

	// Backoff configures the delay between reopen attempts.
	Backoff connection.BackoffConfig

	// Listener receives relayed session events (optional).
	Listener Listener

	// Logger is used for registry diagnostics (optional).
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the session defaults and the
// standard reopen backoff.
func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Backoff: connection.DefaultBackoffConfig(),
	}
}

// device is one attached device path.
type device struct {
	path string
	mgr  *connection.Manager

	mu   sync.Mutex
	sess *session.Session
}

func (d *device) session() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}

// reopenable reports whether the latest session closed in a state that
// calls for a fresh one.
func (d *device) reopenable() bool {
	s := d.session()
	if s == nil || !s.IsClosed() {
		return false
	}
	return shouldReopen(s.Status())
}

func shouldReopen(status session.Status) bool {
	return status == session.StatusWrongApp || status == session.StatusNeedsReconnection
}

// Registry owns the sessions of all attached devices.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*device
	closed  bool
}

// New creates a registry.
func New(cfg Config) (*Registry, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("%w: negative reconnect attempts", session.ErrInvalidConfig)
	}
	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger,
		devices: make(map[string]*device),
	}, nil
}

// DeviceAdded opens and connects a session for path. A connection failure
// is returned; if the failure closed the session with a reopenable status
// the registry keeps retrying in the background. A device whose transport
// cannot be opened is not registered.
func (r *Registry) DeviceAdded(ctx context.Context, path string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.devices[path]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, path)
	}
	d := &device{path: path}
	d.mgr = connection.NewManager(
		func(ctx context.Context) error { return r.open(ctx, d) },
		connection.WithBackoff(r.cfg.Backoff),
		connection.WithMaxAttempts(r.cfg.MaxReconnectAttempts),
		connection.WithLogger(r.logger),
	)
	d.mgr.OnReconnecting(func(attempt int, delay time.Duration) {
		r.debugLog("reopening session", "device", path, "attempt", attempt, "remaining", d.mgr.Remaining(), "delay", delay)
	})
	d.mgr.OnStateChange(func(oldState, newState connection.State) {
		// A session can close between connecting and the manager settling.
		settled := newState == connection.StateConnected ||
			(oldState == connection.StateConnecting && newState == connection.StateDisconnected)
		if settled && d.reopenable() && r.attached(d) {
			d.mgr.ConnectionLost()
		}
	})
	d.mgr.OnGiveUp(func(attempts int, lastErr error) {
		if r.logger != nil {
			r.logger.Warn("giving up on device", "device", path, "attempts", attempts, "error", lastErr)
		}
	})
	r.devices[path] = d
	d.mgr.Start()
	r.mu.Unlock()

	err := d.mgr.Connect(ctx)
	if err != nil && d.session() == nil {
		// The transport never opened; forget the device.
		r.mu.Lock()
		if r.devices[path] == d {
			delete(r.devices, path)
		}
		r.mu.Unlock()
		r.release(d)
	}
	return err
}

// DeviceRemoved closes the session for path. No reopen is attempted.
func (r *Registry) DeviceRemoved(path string) error {
	r.mu.Lock()
	d, ok := r.devices[path]
	if ok {
		delete(r.devices, path)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, path)
	}
	r.release(d)
	return nil
}

// Session returns the current session for path.
func (r *Registry) Session(path string) (*session.Session, bool) {
	r.mu.Lock()
	d, ok := r.devices[path]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s := d.session()
	return s, s != nil
}

// Sessions returns the open sessions ordered by device path.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	devices := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].path < devices[j].path })

	var out []*session.Session
	for _, d := range devices {
		if s := d.session(); s != nil && !s.IsClosed() {
			out = append(out, s)
		}
	}
	return out
}

// Paths returns the registered device paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.devices))
	for p := range r.devices {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close closes every session and stops all reopen loops.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	devices := r.devices
	r.devices = make(map[string]*device)
	r.mu.Unlock()

	for _, d := range devices {
		r.release(d)
	}
	return nil
}

// release stops reopening d and closes its session. The manager is closed
// first so an in-flight reopen cannot leave a session behind.
func (r *Registry) release(d *device) {
	d.mgr.Close()
	if s := d.session(); s != nil {
		_ = s.Close()
	}
}

// open creates and connects a new session for d. A session that stays open
// counts as connected, including a LOCKED one.
func (r *Registry) open(ctx context.Context, d *device) error {
	reopen := d.mgr.State() == connection.StateReconnecting

	err := r.connect(ctx, d)
	if reopen {
		r.cfg.Session.Metrics.ObserveReconnect(err)
	}
	return err
}

func (r *Registry) connect(ctx context.Context, d *device) error {
	s, err := session.Open(ctx, d.path, r.cfg.Session)
	if err != nil {
		return err
	}
	s.OnEvent(func(ev session.Event) { r.relay(d, s, ev) })

	d.mu.Lock()
	d.sess = s
	d.mu.Unlock()

	if !r.attached(d) {
		_ = s.Close()
		return ErrUnknownDevice
	}

	if err := s.Connect(ctx); err != nil && s.IsClosed() {
		return err
	}
	return nil
}

// relay forwards ev to the listener and schedules a reopen when the session
// closed while its device is still attached.
func (r *Registry) relay(d *device, s *session.Session, ev session.Event) {
	if l := r.cfg.Listener; l != nil {
		l.HandleEvent(ev)
	}
	if ev.Type != session.EventClose || !shouldReopen(ev.Status) {
		return
	}
	if d.session() != s || !r.attached(d) {
		return
	}
	r.debugLog("session lost", "device", d.path, "status", ev.Status.String())
	d.mgr.ConnectionLost()
}

func (r *Registry) attached(d *device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[d.path] == d
}

func (r *Registry) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
