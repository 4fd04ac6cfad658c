package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/queue"
)

// VerifyFunc receives the result of VerifyAddress: ok is true only when err
// is nil.
type VerifyFunc func(ok bool, err error)

// VerifyAddress queues a check that the device derives expected at index
// of the current derivation. With display the device shows the address and
// waits for the user, so no timeout applies. Addresses are compared
// case-insensitively.
//
// A mismatch is reported to cb and then treated as a device error, which
// closes the session. If the session closes before the check runs, cb
// receives ErrSessionClosed.
func (s *Session) VerifyAddress(index int, expected string, display bool, cb VerifyFunc) error {
	if index < 0 || index >= MaxAccountLimit {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	if cb == nil {
		cb = func(bool, error) {}
	}

	kind := s.Derivation()
	return s.enqueue(&queue.Request{
		Kind: queue.KindVerifyAddress,
		Abort: func(err error) {
			cb(false, fmt.Errorf("%w: %w", ErrVerificationFailed, abortErr(err)))
		},
		Execute: func(ctx context.Context) error {
			path, err := kind.Path(uint32(index))
			if err != nil {
				cb(false, fmt.Errorf("%w: %w", ErrVerificationFailed, ErrNoDerivation))
				return err
			}

			res, err := s.getAddress(ctx, path, display, false)
			if err != nil {
				s.handleError(err, "verify address")
				cb(false, fmt.Errorf("%w: %w", ErrVerificationFailed, err))
				return err
			}

			if !strings.EqualFold(res.Address, expected) {
				cb(false, fmt.Errorf("%w: device has %s at index %d, expected %s", ErrAddressMismatch, res.Address, index, expected))
				mismatch := hw.Errorf(hw.CodeAddressMismatch, "address %d does not match", index)
				s.handleError(mismatch, "verify address")
				return mismatch
			}

			cb(true, nil)
			return nil
		},
	})
}
