package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"

	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/hw"
)

// raceTimeout runs call and returns its result, unless timeout elapses
// first, in which case a *hw.DeviceError with timeoutCode is returned. The
// call keeps running; its late result is logged and dropped. A timeout of
// zero waits for call indefinitely.
func raceTimeout[T any](s *Session, op string, timeout time.Duration, timeoutCode hw.Code, call func() (T, error)) (T, error) {
	if timeout <= 0 {
		return call()
	}

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	var settled atomic.Bool

	go func() {
		v, err := call()
		if !settled.CompareAndSwap(false, true) {
			s.debugLog("late device result dropped", "op", op, "error", err)
			return
		}
		ch <- result{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-timer.C:
		if settled.CompareAndSwap(false, true) {
			var zero T
			return zero, hw.Errorf(timeoutCode, "%s timed out after %s", op, timeout)
		}
		// The call settled while the timer fired.
		r := <-ch
		return r.value, r.err
	}
}

// getAddress fetches one address. display disables the timeout since the
// device then waits for the user.
func (s *Session) getAddress(ctx context.Context, path accounts.DerivationPath, display, wantChainCode bool) (hw.AddressResult, error) {
	timeout := s.cfg.AddressTimeout
	if display {
		timeout = 0
	}
	return raceTimeout(s, "get address", timeout, hw.CodeTimeout, func() (hw.AddressResult, error) {
		return s.app.GetAddress(ctx, path, display, wantChainCode)
	})
}

// getAppConfiguration reads the application configuration. While still
// connecting, a timeout means the device is locked with no application open.
func (s *Session) getAppConfiguration(ctx context.Context) (hw.AppConfiguration, error) {
	code := hw.CodeTimeout
	if s.Status() == StatusConnecting {
		code = hw.CodeAppNotOpen
	}
	return raceTimeout(s, "get app configuration", s.cfg.AppConfigTimeout, code, func() (hw.AppConfiguration, error) {
		return s.app.GetAppConfiguration(ctx)
	})
}

// probe performs one liveness check against the fixed probe path.
func (s *Session) probe(ctx context.Context) error {
	_, err := s.getAddress(ctx, derivation.ProbePath, false, false)
	return err
}
