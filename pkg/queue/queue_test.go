package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingRequest(kind Kind, mu *sync.Mutex, order *[]int, id int) *Request {
	return &Request{
		Kind: kind,
		Execute: func(ctx context.Context) error {
			mu.Lock()
			*order = append(*order, id)
			mu.Unlock()
			return nil
		},
	}
}

// blocker returns a request that holds the worker until release is closed.
func blocker(started chan<- struct{}, release <-chan struct{}) *Request {
	return &Request{
		Kind: KindDeriveAddresses,
		Execute: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
}

func waitDrained(t *testing.T, q *Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		return q.Len() == 0 && q.Running() == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueueFIFO(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Add(recordingRequest(KindDeriveAddress, &mu, &order, i)))
	}

	// Nothing runs before Start.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	q.Start()
	q.Start()
	waitDrained(t, q)

	mu.Lock()
	defer mu.Unlock()
	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestQueueNeverRunsConcurrently(t *testing.T) {
	q := New()
	q.Start()
	defer q.Close()

	var active, maxActive atomic.Int32
	var executed atomic.Int32
	rng := rand.New(rand.NewSource(1))

	req := func() *Request {
		return &Request{
			Kind: KindCheckDeviceStatus,
			Execute: func(ctx context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
				active.Add(-1)
				executed.Add(1)
				return nil
			},
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = q.Add(req())
				if (i+g)%7 == 0 {
					q.Clear()
				}
			}
		}(g)
	}
	wg.Wait()
	waitDrained(t, q)

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Positive(t, executed.Load())
}

func TestQueueClearThenAdd(t *testing.T) {
	q := New()
	q.Start()
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Add(blocker(started, release)))
	<-started

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Add(recordingRequest(KindDeriveAddress, &mu, &order, i)))
	}

	dropped := q.Clear()
	assert.Equal(t, 3, dropped)
	require.NoError(t, q.Add(recordingRequest(KindVerifyAddress, &mu, &order, 99)))

	// The executing request is unaffected by Clear.
	assert.NotNil(t, q.Running())
	assert.Equal(t, KindDeriveAddresses, q.Running().Kind)

	close(release)
	waitDrained(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{99}, order)
}

func TestQueueClearFunc(t *testing.T) {
	q := New()
	q.Start()
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Add(blocker(started, release)))
	<-started

	var mu sync.Mutex
	var order []int
	aborted := make(map[int]error)
	add := func(kind Kind, id int) {
		req := recordingRequest(kind, &mu, &order, id)
		req.Abort = func(err error) {
			mu.Lock()
			aborted[id] = err
			mu.Unlock()
		}
		require.NoError(t, q.Add(req))
	}
	add(KindDeriveAddress, 1)
	add(KindVerifyAddress, 2)
	add(KindCheckDeviceStatus, 3)
	add(KindSignMessage, 4)
	add(KindDeriveAddress, 5)

	dropped := q.ClearFunc(func(r *Request) bool {
		return r.Kind == KindDeriveAddress || r.Kind == KindCheckDeviceStatus
	})
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, KindSignMessage, q.PeekBack().Kind)

	close(release)
	waitDrained(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 4}, order)
	assert.Len(t, aborted, 3)
	for _, id := range []int{1, 3, 5} {
		assert.ErrorIs(t, aborted[id], ErrCleared, "request %d", id)
	}
}

func TestQueueClearAborts(t *testing.T) {
	q := New()
	defer q.Close()

	var got []error
	for i := 0; i < 2; i++ {
		require.NoError(t, q.Add(&Request{
			Kind:    KindVerifyAddress,
			Execute: func(context.Context) error { return nil },
			Abort:   func(err error) { got = append(got, err) },
		}))
	}
	require.NoError(t, q.Add(&Request{Kind: KindDeriveAddress, Execute: func(context.Context) error { return nil }}))

	assert.Equal(t, 3, q.Clear())
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0], ErrCleared)
	assert.ErrorIs(t, got[1], ErrCleared)
}

func TestQueuePeekBack(t *testing.T) {
	q := New()
	defer q.Close()

	assert.Nil(t, q.PeekBack())

	first := &Request{Kind: KindDeriveAddress, Execute: func(context.Context) error { return nil }}
	probe := &Request{Kind: KindCheckDeviceStatus, Execute: func(context.Context) error { return nil }}
	require.NoError(t, q.Add(first))
	require.NoError(t, q.Add(probe))

	assert.Same(t, probe, q.PeekBack())
	assert.Equal(t, 2, q.Len(), "PeekBack must not mutate")
}

func TestQueueFailuresDoNotStopProcessing(t *testing.T) {
	var mu sync.Mutex
	var kinds []Kind
	var errs []error
	q := New(WithObserver(func(kind Kind, err error, elapsed time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, kind)
		errs = append(errs, err)
	}))
	q.Start()
	defer q.Close()

	boom := errors.New("boom")
	require.NoError(t, q.Add(&Request{Kind: KindSignMessage, Execute: func(context.Context) error { return boom }}))
	require.NoError(t, q.Add(&Request{Kind: KindSignTransaction, Execute: func(context.Context) error { panic("device fell over") }}))
	require.NoError(t, q.Add(&Request{Kind: KindGetAppConfiguration, Execute: func(context.Context) error { return nil }}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{KindSignMessage, KindSignTransaction, KindGetAppConfiguration}, kinds)
	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorContains(t, errs[1], "panicked")
	assert.NoError(t, errs[2])
}

func TestQueueClose(t *testing.T) {
	t.Run("DropsPendingAndRejectsAdds", func(t *testing.T) {
		q := New()
		q.Start()

		started := make(chan struct{})
		release := make(chan struct{})
		require.NoError(t, q.Add(blocker(started, release)))
		<-started

		var ran atomic.Bool
		var abortErr error
		var aborts int
		require.NoError(t, q.Add(&Request{
			Kind: KindSignMessage,
			Execute: func(context.Context) error {
				ran.Store(true)
				return nil
			},
			Abort: func(err error) {
				aborts++
				abortErr = err
			},
		}))

		q.Close()
		q.Close()
		assert.Equal(t, 1, aborts)
		assert.ErrorIs(t, abortErr, ErrClosed)
		assert.True(t, q.IsClosed())
		assert.Equal(t, 0, q.Len())
		assert.ErrorIs(t, q.Add(&Request{Kind: KindDeriveAddress, Execute: func(context.Context) error { return nil }}), ErrClosed)

		close(release)
		select {
		case <-q.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit")
		}
		assert.False(t, ran.Load())
	})

	t.Run("FromInsideExecute", func(t *testing.T) {
		q := New()
		q.Start()

		var ctxErr atomic.Value
		require.NoError(t, q.Add(&Request{Kind: KindCheckDeviceStatus, Execute: func(ctx context.Context) error {
			q.Close()
			<-ctx.Done()
			ctxErr.Store(ctx.Err())
			return nil
		}}))

		select {
		case <-q.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit")
		}
		assert.ErrorIs(t, ctxErr.Load().(error), context.Canceled)
	})

	t.Run("NeverStarted", func(t *testing.T) {
		q := New()
		q.Close()
		q.Start()
		select {
		case <-q.Done():
		default:
			t.Fatal("Done should be closed for a queue that never started")
		}
	})
}

func TestQueueAddNil(t *testing.T) {
	q := New()
	defer q.Close()
	assert.ErrorIs(t, q.Add(nil), ErrNilRequest)
	assert.ErrorIs(t, q.Add(&Request{Kind: KindDeriveAddress}), ErrNilRequest)
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindDeriveAddress, "deriveAddress"},
		{KindDeriveAddresses, "deriveAddresses"},
		{KindVerifyAddress, "verifyAddress"},
		{KindCheckDeviceStatus, "checkDeviceStatus"},
		{KindGetAppConfiguration, "getAppConfiguration"},
		{KindSignMessage, "signMessage"},
		{KindSignTransaction, "signTransaction"},
		{Kind(200), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
