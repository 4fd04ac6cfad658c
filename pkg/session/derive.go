package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/queue"
)

// DeriveAddresses starts a new derivation for the current kind. Pending
// derivation and probe requests are dropped, the address list is cleared
// and the status moves to DERIVING before the derivation requests are
// queued. Results of earlier derivations still in flight are discarded.
// Pending verifications and signatures stay queued.
func (s *Session) DeriveAddresses() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	kind := s.derivation
	if kind.Strategy() == derivation.StrategyNone {
		s.mu.Unlock()
		return ErrNoDerivation
	}

	s.epoch++
	epoch := s.epoch
	limit := s.accountLimit
	// Derive and probe requests carry no Abort hook, so nothing runs under s.mu.
	s.queue.ClearFunc(supersededByDerivation)
	s.accounts = nil
	s.setStatusLocked(StatusDeriving, "derive "+kind.String())
	ev := s.eventLocked(EventUpdate)
	s.mu.Unlock()

	s.debugLog("deriving addresses", "kind", kind.String(), "epoch", epoch, "limit", limit)
	s.publish(ev)

	var reqs []*queue.Request
	switch kind.Strategy() {
	case derivation.StrategyPerIndex:
		for i := 0; i < limit; i++ {
			reqs = append(reqs, s.deriveAddressRequest(kind, epoch, i))
		}
	case derivation.StrategyBulk:
		reqs = append(reqs, s.deriveAddressesRequest(kind, epoch, limit))
	}

	for _, req := range reqs {
		if !s.isCurrent(kind, epoch) {
			// A newer derivation already replaced this one.
			return nil
		}
		if err := s.enqueue(req); err != nil {
			return err
		}
	}
	return nil
}

// SetDerivation switches the derivation kind and re-derives. Setting the
// current kind again does nothing.
func (s *Session) SetDerivation(kind derivation.Kind) error {
	if kind.Strategy() == derivation.StrategyNone {
		return fmt.Errorf("%w: %s", derivation.ErrUnknownKind, kind)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.derivation == kind {
		s.mu.Unlock()
		return nil
	}
	s.derivation = kind
	s.mu.Unlock()

	return s.DeriveAddresses()
}

// SetAccountLimit changes how many addresses are derived and re-derives.
func (s *Session) SetAccountLimit(limit int) error {
	if limit <= 0 || limit > MaxAccountLimit {
		return fmt.Errorf("%w: %d", ErrInvalidAccountLimit, limit)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.accountLimit == limit {
		s.mu.Unlock()
		return nil
	}
	s.accountLimit = limit
	kind := s.derivation
	s.mu.Unlock()

	if kind == derivation.KindUnset {
		return nil
	}
	return s.DeriveAddresses()
}

func supersededByDerivation(req *queue.Request) bool {
	switch req.Kind {
	case queue.KindDeriveAddress, queue.KindDeriveAddresses, queue.KindCheckDeviceStatus:
		return true
	default:
		return false
	}
}

// isCurrent reports whether kind and epoch still describe the active derivation.
func (s *Session) isCurrent(kind derivation.Kind, epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked(kind, epoch)
}

func (s *Session) currentLocked(kind derivation.Kind, epoch uint64) bool {
	return !s.closed && s.derivation == kind && s.epoch == epoch
}

// deriveAddressRequest fetches the address at index. Siblings keep running
// when it fails.
func (s *Session) deriveAddressRequest(kind derivation.Kind, epoch uint64, index int) *queue.Request {
	return &queue.Request{
		Kind: queue.KindDeriveAddress,
		Execute: func(ctx context.Context) error {
			if !s.isCurrent(kind, epoch) {
				return nil
			}
			path, err := kind.Path(uint32(index))
			if err != nil {
				return err
			}

			res, err := s.getAddress(ctx, path, false, false)
			if err != nil {
				s.handleError(err, fmt.Sprintf("derive address %d", index))
				return err
			}

			s.mu.Lock()
			if !s.currentLocked(kind, epoch) {
				s.mu.Unlock()
				s.debugLog("stale address discarded", "index", index, "epoch", epoch)
				return nil
			}
			s.insertAccountLocked(Account{Index: index, Address: res.Address})
			if s.status == StatusDeriving {
				s.setStatusLocked(StatusOK, "derived")
			}
			ev := s.eventLocked(EventUpdate)
			s.mu.Unlock()

			s.publish(ev)
			return nil
		},
	}
}

// deriveAddressesRequest fetches the extended public key of the kind's base
// path and expands it into the full address list.
func (s *Session) deriveAddressesRequest(kind derivation.Kind, epoch uint64, limit int) *queue.Request {
	return &queue.Request{
		Kind: queue.KindDeriveAddresses,
		Execute: func(ctx context.Context) error {
			if !s.isCurrent(kind, epoch) {
				return nil
			}

			res, err := s.getAddress(ctx, kind.BasePath(), false, true)
			if err == nil && len(res.ChainCode) == 0 {
				err = hw.ErrChainCodeRequired
			}
			if err != nil {
				s.handleError(err, "derive addresses")
				return err
			}

			addrs, err := s.cfg.Expand(res.PublicKey, res.ChainCode, limit)
			if err != nil {
				err = fmt.Errorf("expand %s addresses: %w", kind, err)
				s.handleError(err, "derive addresses")
				return err
			}

			s.mu.Lock()
			if !s.currentLocked(kind, epoch) {
				s.mu.Unlock()
				s.debugLog("stale address list discarded", "epoch", epoch)
				return nil
			}
			accounts := make([]Account, len(addrs))
			for i, a := range addrs {
				accounts[i] = Account{Index: i, Address: a}
			}
			s.accounts = accounts
			s.setStatusLocked(StatusOK, "derived")
			ev := s.eventLocked(EventUpdate)
			s.mu.Unlock()

			s.publish(ev)
			return nil
		},
	}
}

// insertAccountLocked inserts a in index order, replacing an entry with the
// same index. Must be called with s.mu held.
func (s *Session) insertAccountLocked(a Account) {
	i := sort.Search(len(s.accounts), func(i int) bool { return s.accounts[i].Index >= a.Index })
	if i < len(s.accounts) && s.accounts[i].Index == a.Index {
		s.accounts[i] = a
		return
	}
	s.accounts = append(s.accounts, Account{})
	copy(s.accounts[i+1:], s.accounts[i:])
	s.accounts[i] = a
}
