package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/queue"
	"github.com/TripleSpeeder/frame/pkg/txsign"
)

// SignMessageFunc receives a hex encoded personal message signature.
type SignMessageFunc func(signature string, err error)

// SignTransactionFunc receives a signed transaction.
type SignTransactionFunc func(tx *types.Transaction, err error)

// SignMessage queues a personal message signature with the account at
// index. The signature is reported as 0x || r || s || v with v in {27, 28}.
// Signing waits for the user, so no timeout applies. If the session closes
// before the request runs, cb receives ErrSessionClosed.
func (s *Session) SignMessage(index int, message []byte, cb SignMessageFunc) error {
	if err := s.checkSignable(index); err != nil {
		return err
	}
	if cb == nil {
		cb = func(string, error) {}
	}

	kind := s.Derivation()
	return s.enqueue(&queue.Request{
		Kind:  queue.KindSignMessage,
		Abort: func(err error) { cb("", fmt.Errorf("sign message: %w", abortErr(err))) },
		Execute: func(ctx context.Context) error {
			path, err := kind.Path(uint32(index))
			if err != nil {
				cb("", err)
				return err
			}

			sig, err := s.app.SignPersonalMessage(ctx, path, message)
			if err != nil {
				s.handleSignError(err, "sign message")
				cb("", fmt.Errorf("sign message: %w", err))
				return err
			}

			v := sig.V
			if v < 27 {
				v += 27
			}
			raw := make([]byte, 0, 65)
			raw = append(raw, sig.R[:]...)
			raw = append(raw, sig.S[:]...)
			raw = append(raw, v)
			cb(hexutil.Encode(raw), nil)
			return nil
		},
	})
}

// SignTransaction queues a transaction signature with the account at index.
// Dynamic fee transactions are converted to legacy ones when the
// application is too old to sign them.
func (s *Session) SignTransaction(index int, tx *types.Transaction, chainID *big.Int, cb SignTransactionFunc) error {
	if err := s.checkSignable(index); err != nil {
		return err
	}
	if cb == nil {
		cb = func(*types.Transaction, error) {}
	}

	kind := s.Derivation()
	return s.enqueue(&queue.Request{
		Kind:  queue.KindSignTransaction,
		Abort: func(err error) { cb(nil, fmt.Errorf("sign transaction: %w", abortErr(err))) },
		Execute: func(ctx context.Context) error {
			path, err := kind.Path(uint32(index))
			if err != nil {
				cb(nil, err)
				return err
			}

			signed, err := txsign.Sign(ctx, tx, chainID, s.AppVersion(), func(ctx context.Context, payload []byte) ([]byte, error) {
				return s.app.SignTransaction(ctx, path, payload)
			})
			if err != nil {
				s.handleSignError(err, "sign transaction")
				cb(nil, fmt.Errorf("sign transaction: %w", err))
				return err
			}
			cb(signed, nil)
			return nil
		},
	})
}

func (s *Session) checkSignable(index int) error {
	if index < 0 || index >= MaxAccountLimit {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case !s.status.IsReady():
		return fmt.Errorf("%w: %s", ErrNotReady, s.status)
	}
	return nil
}

// handleSignError routes device failures through the classifier. A user
// rejection, a payload the application refused or a transaction that could
// not be encoded says nothing about the device state, so those only go back
// to the caller.
func (s *Session) handleSignError(err error, op string) {
	switch {
	case errors.Is(err, txsign.ErrChainIDRequired), errors.Is(err, txsign.ErrUnsupportedType):
		s.debugLog("signature not attempted", "op", op, "error", err)
	case hw.CodeOf(err) == hw.CodeUserRejected, hw.CodeOf(err) == hw.CodeInvalidData:
		s.debugLog("signature refused", "op", op, "error", err)
	default:
		s.handleError(err, op)
	}
}
