package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/queue"
)

const testPath = "hid://0001"

// addrFor returns a deterministic address for a derivation path.
func addrFor(path accounts.DerivationPath) string {
	return common.BytesToAddress(crypto.Keccak256([]byte(path.String()))).Hex()
}

// bulkAddr is the address the test expansion produces at index i.
func bulkAddr(i int) string {
	return fmt.Sprintf("0x%040x", 0xb000+i)
}

type fakeTransport struct {
	closed atomic.Bool
}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	opened    []*fakeTransport
	openErr   error
	openCount int
}

func (p *fakeProvider) Open(context.Context, string) (hw.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openCount++
	if p.openErr != nil {
		return nil, p.openErr
	}
	t := &fakeTransport{}
	p.opened = append(p.opened, t)
	return t, nil
}

// fakeApp is a scriptable signing application. Hooks run before the default
// answer; a non-nil error from a hook is returned instead.
type fakeApp struct {
	mu          sync.Mutex
	version     string
	configErr   error
	configDelay time.Duration
	addressHook func(path accounts.DerivationPath) error
	addresses   map[string]string
	messageSig  hw.MessageSignature
	signErr     error

	addressCalls atomic.Int32
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
}

func newFakeApp() *fakeApp {
	return &fakeApp{version: "1.10.3", addresses: make(map[string]string)}
}

func (a *fakeApp) enter() func() {
	n := a.inFlight.Add(1)
	for {
		peak := a.maxInFlight.Load()
		if n <= peak || a.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { a.inFlight.Add(-1) }
}

func (a *fakeApp) setAddressHook(hook func(path accounts.DerivationPath) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addressHook = hook
}

func (a *fakeApp) setConfig(version string, err error, delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.version, a.configErr, a.configDelay = version, err, delay
}

func (a *fakeApp) GetAddress(_ context.Context, path accounts.DerivationPath, _ bool, wantChainCode bool) (hw.AddressResult, error) {
	defer a.enter()()
	a.addressCalls.Add(1)

	a.mu.Lock()
	hook := a.addressHook
	override, ok := a.addresses[path.String()]
	a.mu.Unlock()

	if hook != nil {
		if err := hook(path); err != nil {
			return hw.AddressResult{}, err
		}
	}
	res := hw.AddressResult{Address: addrFor(path), PublicKey: []byte{0x04}}
	if ok {
		res.Address = override
	}
	if wantChainCode {
		res.ChainCode = make([]byte, 32)
	}
	return res, nil
}

func (a *fakeApp) GetAppConfiguration(context.Context) (hw.AppConfiguration, error) {
	defer a.enter()()

	a.mu.Lock()
	version, err, delay := a.version, a.configErr, a.configDelay
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return hw.AppConfiguration{}, err
	}
	return hw.AppConfiguration{Version: version}, nil
}

func (a *fakeApp) SignPersonalMessage(context.Context, accounts.DerivationPath, []byte) (hw.MessageSignature, error) {
	defer a.enter()()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messageSig, a.signErr
}

func (a *fakeApp) SignTransaction(context.Context, accounts.DerivationPath, []byte) ([]byte, error) {
	defer a.enter()()
	a.mu.Lock()
	defer a.mu.Unlock()
	return nil, a.signErr
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

func testConfig(app hw.App) Config {
	cfg := DefaultConfig()
	cfg.Provider = &fakeProvider{}
	cfg.AppFactory = func(hw.Transport) hw.App { return app }
	cfg.AddressTimeout = 500 * time.Millisecond
	cfg.AppConfigTimeout = 500 * time.Millisecond
	cfg.OKPollInterval = time.Hour
	cfg.LockedPollInterval = time.Hour
	cfg.Expand = func(_, _ []byte, count int) ([]string, error) {
		out := make([]string, count)
		for i := range out {
			out[i] = bulkAddr(i)
		}
		return out, nil
	}
	return cfg
}

func openSession(t *testing.T, cfg Config) (*Session, *recorder) {
	t.Helper()
	s, err := Open(context.Background(), testPath, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rec := &recorder{}
	s.OnEvent(rec.handle)
	return s, rec
}

// holdWorker occupies the queue worker until the returned func is called.
func holdWorker(t *testing.T, s *Session) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.queue.Add(&queue.Request{
		Kind: queue.KindGetAppConfiguration,
		Execute: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

// flush waits until every request queued so far has run. Derivations clear
// the queue, so the marker is re-added until one runs with nothing behind
// it. It returns immediately once the session is closed.
func flush(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		done := make(chan struct{})
		err := s.queue.Add(&queue.Request{
			Kind:    queue.KindGetAppConfiguration,
			Execute: func(context.Context) error { close(done); return nil },
		})
		if err != nil {
			return
		}
		select {
		case <-done:
			if s.queue.Len() == 0 {
				return
			}
		case <-s.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("queue did not drain")
}
