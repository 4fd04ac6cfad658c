package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, Jitter: 0}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultDelays", func(t *testing.T) {
		cfg := DefaultBackoffConfig()
		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second,
		}

		for i, exp := range expected {
			if got := cfg.Delay(i + 1); got != exp {
				t.Errorf("Delay(%d) = %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("JitterBelowCap", func(t *testing.T) {
		b := NewBackoff()
		upper := time.Duration(float64(time.Second) * (1 + JitterFactor))

		distinct := map[time.Duration]bool{}
		for i := 0; i < 20; i++ {
			d, ok := b.Next()
			if !ok {
				t.Fatal("unbounded backoff gave up")
			}
			if d < time.Second || d > upper {
				t.Errorf("Sample %d: %v out of range [1s, %v]", i, d, upper)
			}
			distinct[d] = true
			b.Reset()
		}
		if len(distinct) < 2 {
			t.Error("jittered samples are identical")
		}
	})

	t.Run("JitterNeverExceedsMax", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: 40 * time.Millisecond, Max: 50 * time.Millisecond, Jitter: 0.5}, 0)
		lower := time.Duration(float64(50*time.Millisecond) * 0.5)
		for i := 0; i < 50; i++ {
			d, _ := b.Next()
			if d > 50*time.Millisecond {
				t.Fatalf("attempt %d: %v above max", i+1, d)
			}
			if i > 0 && d < lower {
				t.Errorf("attempt %d: capped delay %v below %v", i+1, d, lower)
			}
		}
	})

	t.Run("NoJitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2}, 0)
		want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
		for i := range want {
			got, ok := b.Next()
			if !ok || got != want[i] {
				t.Errorf("Next[%d] = %v, %v, want %v, true", i, got, ok, want[i])
			}
		}
		if b.Remaining() != -1 {
			t.Errorf("Remaining = %d, want -1", b.Remaining())
		}
	})

	t.Run("BudgetResetsOnGiveUp", func(t *testing.T) {
		b := NewBackoffWithConfig(fastBackoff(), 2)
		for i := 0; i < 2; i++ {
			if _, ok := b.Next(); !ok {
				t.Fatalf("attempt %d refused", i+1)
			}
		}
		if b.Remaining() != 0 {
			t.Errorf("Remaining = %d, want 0", b.Remaining())
		}
		if _, ok := b.Next(); ok {
			t.Fatal("expected give up after budget")
		}

		// The next loss starts over from the initial delay.
		if b.Attempts() != 0 || b.Remaining() != 2 {
			t.Errorf("after give up: attempts %d remaining %d, want 0 and 2", b.Attempts(), b.Remaining())
		}
		d, ok := b.Next()
		if !ok || d != time.Millisecond {
			t.Errorf("first delay after give up = %v, %v, want 1ms, true", d, ok)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts = %d, want 5", b.Attempts())
		}

		b.Reset()
		if b.Attempts() != 0 {
			t.Errorf("Attempts after reset = %d, want 0", b.Attempts())
		}
	})

	t.Run("ConfigDefaults", func(t *testing.T) {
		cfg := BackoffConfig{Max: time.Millisecond, Multiplier: 0.5, Jitter: -1}
		// Max below initial is raised to initial.
		if got := cfg.Delay(1); got != InitialBackoff {
			t.Errorf("Delay(1) = %v, want %v", got, InitialBackoff)
		}
		if got := cfg.Delay(3); got != InitialBackoff {
			t.Errorf("Delay(3) = %v, want %v", got, InitialBackoff)
		}
		b := NewBackoffWithConfig(cfg, -3)
		if b.Remaining() != -1 {
			t.Errorf("negative budget: Remaining = %d, want -1", b.Remaining())
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("Connect", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		defer m.Close()

		if m.State() != StateDisconnected {
			t.Fatalf("initial state = %v", m.State())
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if !m.IsConnected() {
			t.Error("expected connected")
		}
		if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("ConnectFailure", func(t *testing.T) {
		boom := errors.New("boom")
		m := NewManager(func(ctx context.Context) error { return boom })
		defer m.Close()

		if err := m.Connect(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("Connect = %v, want boom", err)
		}
		if m.State() != StateDisconnected {
			t.Errorf("state = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("StateChanges", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })

		var mu sync.Mutex
		var seen []State
		m.OnStateChange(func(_, newState State) {
			mu.Lock()
			seen = append(seen, newState)
			mu.Unlock()
		})

		_ = m.Connect(context.Background())
		m.Close()

		mu.Lock()
		defer mu.Unlock()
		want := []State{StateConnecting, StateConnected, StateClosed}
		if len(seen) != len(want) {
			t.Fatalf("states = %v, want %v", seen, want)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("states[%d] = %v, want %v", i, seen[i], want[i])
			}
		}
	})

	t.Run("Closed", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		m.Close()
		m.Close()

		if err := m.Connect(context.Background()); !errors.Is(err, ErrManagerClosed) {
			t.Errorf("Connect after Close = %v, want ErrManagerClosed", err)
		}
		m.ConnectionLost()
		if m.State() != StateClosed {
			t.Errorf("state = %v, want CLOSED", m.State())
		}
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("RecoversAfterFailures", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("not yet")
			}
			return nil
		}, WithBackoff(fastBackoff()))
		m.Start()
		defer m.Close()

		var attempts atomic.Int32
		m.OnReconnecting(func(attempt int, delay time.Duration) {
			attempts.Store(int32(attempt))
		})

		m.ConnectionLost()
		waitState(t, m, StateConnected)

		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
		if attempts.Load() != 3 {
			t.Errorf("last attempt = %d, want 3", attempts.Load())
		}
		if m.Attempts() != 0 {
			t.Errorf("Attempts after success = %d, want 0", m.Attempts())
		}
	})

	t.Run("FromDisconnected", func(t *testing.T) {
		var ok atomic.Bool
		m := NewManager(func(ctx context.Context) error {
			if !ok.Load() {
				return errors.New("detached")
			}
			return nil
		}, WithBackoff(fastBackoff()))
		m.Start()
		defer m.Close()

		if err := m.Connect(context.Background()); err == nil {
			t.Fatal("expected first Connect to fail")
		}
		ok.Store(true)
		m.ConnectionLost()
		waitState(t, m, StateConnected)
	})

	t.Run("GivesUp", func(t *testing.T) {
		boom := errors.New("still gone")
		var calls atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			calls.Add(1)
			return boom
		}, WithBackoff(fastBackoff()), WithMaxAttempts(3))
		m.Start()
		defer m.Close()

		var mu sync.Mutex
		var remaining []int
		m.OnReconnecting(func(int, time.Duration) {
			mu.Lock()
			remaining = append(remaining, m.Remaining())
			mu.Unlock()
		})

		done := make(chan error, 1)
		m.OnGiveUp(func(attempts int, lastErr error) {
			if attempts != 3 {
				t.Errorf("attempts = %d, want 3", attempts)
			}
			done <- lastErr
		})

		m.ConnectionLost()

		select {
		case err := <-done:
			if !errors.Is(err, boom) {
				t.Errorf("lastErr = %v, want %v", err, boom)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("OnGiveUp not called")
		}
		waitState(t, m, StateDisconnected)
		if calls.Load() != 3 {
			t.Errorf("calls = %d, want 3", calls.Load())
		}
		mu.Lock()
		if len(remaining) != 3 || remaining[0] != 2 || remaining[2] != 0 {
			t.Errorf("remaining per attempt = %v, want [2 1 0]", remaining)
		}
		mu.Unlock()
		if m.Remaining() != 3 {
			t.Errorf("Remaining after give up = %d, want 3", m.Remaining())
		}
	})

	t.Run("AttemptTimeout", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}, WithBackoff(fastBackoff()), WithAttemptTimeout(10*time.Millisecond))
		m.Start()
		defer m.Close()

		m.ConnectionLost()
		waitState(t, m, StateConnected)
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
	})

	t.Run("CloseDuringBackoff", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return errors.New("gone") },
			WithBackoff(BackoffConfig{Initial: time.Hour, Max: time.Hour}))
		m.Start()

		m.ConnectionLost()
		waitState(t, m, StateReconnecting)

		closed := make(chan struct{})
		go func() {
			m.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("Close blocked during backoff")
		}
	})

	t.Run("IgnoredWhileReconnecting", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		m := NewManager(func(ctx context.Context) error {
			calls.Add(1)
			<-release
			return nil
		}, WithBackoff(fastBackoff()))
		m.Start()
		defer m.Close()

		m.ConnectionLost()
		m.ConnectionLost()
		m.ConnectionLost()
		close(release)
		waitState(t, m, StateConnected)

		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
