package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Queue errors.
var (
	ErrClosed     = errors.New("request queue closed")
	ErrCleared    = errors.New("request cleared")
	ErrNilRequest = errors.New("nil request")
)

// Kind tags a request with the operation it performs.
type Kind uint8

const (
	// KindDeriveAddress derives one address by index.
	KindDeriveAddress Kind = iota

	// KindDeriveAddresses derives a full address list from an extended key.
	KindDeriveAddresses

	// KindVerifyAddress compares an on-device address with an expected one.
	KindVerifyAddress

	// KindCheckDeviceStatus is a liveness probe.
	KindCheckDeviceStatus

	// KindGetAppConfiguration reads the signing application version.
	KindGetAppConfiguration

	// KindSignMessage signs a personal message.
	KindSignMessage

	// KindSignTransaction signs a transaction.
	KindSignTransaction
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDeriveAddress:
		return "deriveAddress"
	case KindDeriveAddresses:
		return "deriveAddresses"
	case KindVerifyAddress:
		return "verifyAddress"
	case KindCheckDeviceStatus:
		return "checkDeviceStatus"
	case KindGetAppConfiguration:
		return "getAppConfiguration"
	case KindSignMessage:
		return "signMessage"
	case KindSignTransaction:
		return "signTransaction"
	default:
		return "unknown"
	}
}

// Request is a unit of device work. It must not be modified after Add.
type Request struct {
	Kind Kind

	// Execute performs the device call. The context is cancelled when the
	// queue closes; cancellation is advisory.
	Execute func(ctx context.Context) error

	// Abort, if set, is called instead of Execute when the request is
	// dropped before it starts, with ErrCleared or ErrClosed. It runs on
	// the goroutine that dropped the request, after the queue lock is
	// released.
	Abort func(err error)
}

// ObserverFunc is called after every request settles.
type ObserverFunc func(kind Kind, err error, elapsed time.Duration)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for failed requests.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithObserver sets a callback invoked after each request settles.
func WithObserver(fn ObserverFunc) Option {
	return func(q *Queue) { q.observer = fn }
}

// Queue runs Requests one at a time in FIFO order.
type Queue struct {
	mu      sync.Mutex
	pending []*Request
	running *Request
	started bool
	closed  bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	logger   *slog.Logger
	observer ObserverFunc
}

// New creates a stopped queue. Requests may be added before Start.
func New(opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start begins processing. Calling Start more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run()
}

// Add appends req to the tail of the queue.
func (q *Queue) Add(req *Request) error {
	if req == nil || req.Execute == nil {
		return ErrNilRequest
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, req)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Clear discards all pending requests and returns how many were dropped.
// The executing request, if any, is left to finish.
func (q *Queue) Clear() int {
	return q.ClearFunc(func(*Request) bool { return true })
}

// ClearFunc discards the pending requests for which match returns true and
// returns how many were dropped. The order of the remaining requests is
// kept. Dropped requests are aborted with ErrCleared.
func (q *Queue) ClearFunc(match func(*Request) bool) int {
	q.mu.Lock()
	var dropped []*Request
	kept := q.pending[:0]
	for _, req := range q.pending {
		if match(req) {
			dropped = append(dropped, req)
		} else {
			kept = append(kept, req)
		}
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
	q.mu.Unlock()

	abort(dropped, ErrCleared)
	return len(dropped)
}

// PeekBack returns the most recently enqueued pending request, or nil.
func (q *Queue) PeekBack() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[len(q.pending)-1]
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running returns the executing request, or nil when idle.
func (q *Queue) Running() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// IsClosed returns true after Close.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting requests and drops pending ones, aborting them with
// ErrClosed. It does not wait for the executing request, so it is safe to
// call from inside Execute. Use Done to wait for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	started := q.started
	q.mu.Unlock()

	q.cancel()
	if !started {
		close(q.done)
	}
	abort(dropped, ErrClosed)
}

// Done is closed once the worker has exited after Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func abort(reqs []*Request, err error) {
	for _, req := range reqs {
		if req.Abort != nil {
			req.Abort(err)
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
		// Already pending
	}
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		req, ok := q.next()
		if !ok {
			return
		}
		if req == nil {
			select {
			case <-q.wake:
			case <-q.ctx.Done():
			}
			continue
		}
		q.execute(req)
	}
}

// next pops the head of the queue. It returns false once the queue is closed.
func (q *Queue) next() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}
	if len(q.pending) == 0 {
		return nil, true
	}
	req := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.running = req
	return req, true
}

func (q *Queue) execute(req *Request) {
	start := time.Now()
	err := q.safeExecute(req)
	elapsed := time.Since(start)

	q.mu.Lock()
	q.running = nil
	q.mu.Unlock()

	if err != nil && q.logger != nil {
		q.logger.Debug("request failed",
			"kind", req.Kind.String(),
			"elapsed", elapsed,
			"error", err)
	}
	if q.observer != nil {
		q.observer(req.Kind, err, elapsed)
	}
}

func (q *Queue) safeExecute(req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request %s panicked: %v", req.Kind, r)
		}
	}()
	return req.Execute(q.ctx)
}
