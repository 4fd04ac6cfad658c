package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/log"
	"github.com/TripleSpeeder/frame/pkg/metrics"
	"github.com/TripleSpeeder/frame/pkg/queue"
	"github.com/TripleSpeeder/frame/pkg/version"
)

// Account is a derived address and its derivation index.
type Account struct {
	Index   int
	Address string
}

// Session manages one hardware signer.
type Session struct {
	id         string
	devicePath string
	cfg        Config

	logger   *slog.Logger
	eventLog log.Logger
	metrics  *metrics.Metrics

	transport hw.Transport
	app       hw.App
	queue     *queue.Queue
	poller    *poller

	mu           sync.RWMutex
	status       Status
	derivation   derivation.Kind
	accounts     []Account
	appVersion   version.AppVersion
	accountLimit int
	epoch        uint64
	closed       bool
	done         chan struct{}

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

// ID returns the session identifier for a device path. The same path always
// yields the same identifier.
func ID(devicePath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("signer:"+devicePath)).String()
}

// Open opens the transport for devicePath and returns a session in
// CONNECTING status with its request queue running. Call Connect next.
func Open(ctx context.Context, devicePath string, cfg Config) (*Session, error) {
	if cfg.Expand == nil {
		cfg.Expand = derivation.Expand
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t, err := cfg.Provider.Open(ctx, devicePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}

	s := &Session{
		id:           ID(devicePath),
		devicePath:   devicePath,
		cfg:          cfg,
		eventLog:     cfg.EventLogger,
		metrics:      cfg.Metrics,
		transport:    t,
		app:          cfg.AppFactory(t),
		status:       StatusConnecting,
		derivation:   cfg.Derivation,
		accountLimit: cfg.AccountLimit,
		done:         make(chan struct{}),
	}
	if cfg.Logger != nil {
		s.logger = cfg.Logger.With("session", s.id, "device", devicePath)
	}
	s.poller = newPoller(s.enqueueProbe)
	s.queue = queue.New(queue.WithLogger(s.logger), queue.WithObserver(s.observeRequest))
	s.queue.Start()
	s.metrics.SessionOpened()

	s.debugLog("session opened", "derivation", s.derivation.String(), "accountLimit", s.accountLimit)
	return s, nil
}

// Connect reads the application configuration and probes the device. Both
// calls run outside the queue since nothing else can be pending yet.
//
// On success the application version is recorded and, if the session is
// still ready, address derivation starts. On failure the error is returned;
// the session stays open only when the device turned out to be LOCKED.
func (s *Session) Connect(ctx context.Context) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}

	cfg, err := s.getAppConfiguration(ctx)
	if err == nil {
		err = s.probe(ctx)
	}
	if err != nil {
		status := s.handleError(err, "connect")
		return fmt.Errorf("connect: %s: %w", status, err)
	}

	s.mu.Lock()
	s.appVersion = version.ParseOrFallback(cfg.Version)
	ready := s.status.IsReady() && !s.closed
	kind := s.derivation
	s.mu.Unlock()

	s.debugLog("connected", "appVersion", s.AppVersion().String())

	if !ready {
		return nil
	}
	if kind == derivation.KindUnset {
		s.updateStatus(StatusOK, "connected")
		return nil
	}
	return s.DeriveAddresses()
}

// Close tears down the session: stops polling, drops pending requests,
// releases the transport and emits a close event. Callbacks of dropped
// verifications and signatures receive ErrSessionClosed. It is safe to call more
// than once and from inside event handlers.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.poller.stop()
	if s.status != StatusWrongApp && s.status != StatusNeedsReconnection {
		s.setStatusLocked(StatusDisconnected, "closed")
	}
	ev := s.eventLocked(EventClose)
	s.mu.Unlock()

	s.queue.Close()
	err := s.transport.Close()
	s.metrics.SessionClosed()
	close(s.done)

	s.debugLog("session closed", "status", ev.Status.String())
	s.publish(ev)
	return err
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// DevicePath returns the transport path of the device.
func (s *Session) DevicePath() string {
	return s.devicePath
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Addresses returns the known addresses in derivation index order.
func (s *Session) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addressesLocked()
}

// Accounts returns the known addresses with their derivation indexes.
func (s *Session) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Account(nil), s.accounts...)
}

// Derivation returns the current derivation kind.
func (s *Session) Derivation() derivation.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.derivation
}

// AccountLimit returns the number of addresses derived.
func (s *Session) AccountLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLimit
}

// AppVersion returns the signing application version. It is zero until
// Connect or a reload succeeds.
func (s *Session) AppVersion() version.AppVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appVersion
}

// Epoch returns the derivation epoch.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// IsClosed returns true after Close.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnEvent registers a handler for session events.
func (s *Session) OnEvent(handler EventHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// CheckDeviceStatus queues a liveness probe.
func (s *Session) CheckDeviceStatus() error {
	return s.enqueue(&queue.Request{
		Kind:    queue.KindCheckDeviceStatus,
		Execute: s.checkDeviceStatus,
	})
}

// checkDeviceStatus probes the device. A success while LOCKED unlocks the
// session; failures go through the classifier.
func (s *Session) checkDeviceStatus(ctx context.Context) error {
	if err := s.probe(ctx); err != nil {
		s.handleError(err, "check device status")
		return err
	}

	s.mu.Lock()
	if s.closed || s.status != StatusLocked {
		s.mu.Unlock()
		return nil
	}
	s.poller.stop()
	s.setStatusLocked(StatusOK, "unlocked")
	events := []Event{s.eventLocked(EventUpdate), s.eventLocked(EventUnlock)}
	reload := len(s.accounts) == 0
	s.mu.Unlock()

	s.publish(events...)

	if reload {
		// Nothing was derived while locked; the version may be unknown too.
		_ = s.enqueue(&queue.Request{
			Kind:    queue.KindGetAppConfiguration,
			Execute: s.reload,
		})
	}
	return nil
}

// reload refreshes the application version and re-derives addresses.
func (s *Session) reload(ctx context.Context) error {
	s.updateStatus(StatusLoading, "reload")

	cfg, err := s.getAppConfiguration(ctx)
	if err != nil {
		s.handleError(err, "reload app configuration")
		return err
	}

	s.mu.Lock()
	s.appVersion = version.ParseOrFallback(cfg.Version)
	kind := s.derivation
	s.mu.Unlock()

	if kind == derivation.KindUnset {
		s.updateStatus(StatusOK, "reloaded")
		return nil
	}
	return s.DeriveAddresses()
}

// abortErr maps the reason a queued request was dropped to a session error.
func abortErr(err error) error {
	if errors.Is(err, queue.ErrClosed) {
		return ErrSessionClosed
	}
	return fmt.Errorf("%w: %w", ErrRequestDropped, err)
}

// enqueueProbe is the poller tick. It skips the enqueue when a probe is
// already waiting at the tail of the queue.
func (s *Session) enqueueProbe(snapshot Status) {
	if tail := s.queue.PeekBack(); tail != nil && tail.Kind == queue.KindCheckDeviceStatus {
		return
	}
	_ = s.queue.Add(&queue.Request{
		Kind: queue.KindCheckDeviceStatus,
		Execute: func(ctx context.Context) error {
			if current := s.Status(); current != snapshot {
				s.debugLog("stale status probe skipped", "scheduled", snapshot.String(), "current", current.String())
				return nil
			}
			return s.checkDeviceStatus(ctx)
		},
	})
}

// handleError classifies err and applies the resulting status. Statuses
// other than LOCKED, CONNECTING and OK close the session.
func (s *Session) handleError(err error, op string) Status {
	code := hw.CodeOf(err)
	next := Classify(code)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return next
	}
	s.recordError(code, err, next)

	var events []Event
	if next != s.status {
		s.setStatusLocked(next, op)
		events = append(events, s.eventLocked(EventUpdate))
		if next == StatusLocked {
			events = append(events, s.eventLocked(EventLock))
		}
	}
	s.mu.Unlock()

	s.debugLog("device error", "op", op, "code", code.String(), "status", next.String(), "error", err)
	s.publish(events...)

	if !next.keepsOpen() {
		_ = s.Close()
	}
	return next
}

// updateStatus sets the status and emits update when it changed.
func (s *Session) updateStatus(next Status, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.status != next
	s.setStatusLocked(next, reason)
	var events []Event
	if changed {
		events = append(events, s.eventLocked(EventUpdate))
	}
	s.mu.Unlock()

	s.publish(events...)
}

// setStatusLocked sets the status and reconfigures the poller.
// Must be called with s.mu held.
func (s *Session) setStatusLocked(next Status, reason string) {
	prev := s.status
	s.status = next

	switch {
	case s.closed:
		s.poller.stop()
	case next == StatusOK:
		s.poller.start(s.cfg.OKPollInterval, next)
	case next == StatusLocked:
		s.poller.start(s.cfg.LockedPollInterval, next)
	default:
		s.poller.stop()
	}

	if prev != next {
		s.metrics.ObserveTransition(next.String())
		s.logEvent(log.Event{
			Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				OldState: prev.String(),
				NewState: next.String(),
				Reason:   reason,
			},
		})
	}
}

// eventLocked snapshots the session into an event. Must be called with s.mu held.
func (s *Session) eventLocked(t EventType) Event {
	return Event{
		Type:       t,
		SessionID:  s.id,
		DevicePath: s.devicePath,
		Status:     s.status,
		Addresses:  s.addressesLocked(),
	}
}

func (s *Session) addressesLocked() []string {
	out := make([]string, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = a.Address
	}
	return out
}

// publish delivers events to handlers. Must be called without s.mu held.
func (s *Session) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.handlersMu.RLock()
	handlers := append([]EventHandler(nil), s.handlers...)
	s.handlersMu.RUnlock()

	for _, ev := range events {
		s.metrics.ObserveEvent(ev.Type.String())
		s.logEvent(log.Event{
			Category: log.CategoryPublished,
			Published: &log.PublishedEvent{
				Type:         ev.Type.String(),
				Status:       ev.Status.String(),
				AddressCount: len(ev.Addresses),
			},
		})
		for _, h := range handlers {
			h(ev)
		}
	}
}

// enqueue adds req unless the session is closed.
func (s *Session) enqueue(req *queue.Request) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}
	if err := s.queue.Add(req); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

func (s *Session) observeRequest(kind queue.Kind, err error, elapsed time.Duration) {
	s.metrics.ObserveRequest(kind.String(), err, elapsed)

	outcome := log.OutcomeSuccess
	if err != nil {
		outcome = log.OutcomeFailure
	}
	s.logEvent(log.Event{
		Category: log.CategoryRequest,
		Request: &log.RequestEvent{
			Kind:     kind.String(),
			Outcome:  outcome,
			Duration: elapsed,
		},
	})
}

func (s *Session) recordError(code hw.Code, err error, classified Status) {
	s.logEvent(log.Event{
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Code:    int(code),
			Message: err.Error(),
			Context: classified.String(),
		},
	})
}

// logEvent fills in the common fields and writes to the event log.
func (s *Session) logEvent(event log.Event) {
	if s.eventLog == nil {
		return
	}
	event.Timestamp = time.Now()
	event.SessionID = s.id
	event.DevicePath = s.devicePath
	s.eventLog.Log(event)
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
