package derivation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/accounts"
)

// ErrUnknownKind is returned when parsing an unsupported derivation name.
var ErrUnknownKind = errors.New("unknown derivation kind")

// Kind selects a derivation scheme.
type Kind uint8

const (
	// KindUnset means no derivation target has been chosen.
	KindUnset Kind = iota

	// KindLive derives m/44'/60'/i'/0/0.
	KindLive

	// KindLegacy derives m/44'/60'/0'/i.
	KindLegacy

	// KindStandard derives m/44'/60'/0'/0/i.
	KindStandard
)

// Strategy is the way addresses of a kind are obtained from the device.
type Strategy uint8

const (
	// StrategyNone applies to KindUnset.
	StrategyNone Strategy = iota

	// StrategyPerIndex asks the device for every address.
	StrategyPerIndex

	// StrategyBulk asks the device for one extended key and expands it.
	StrategyBulk
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindLive:
		return "live"
	case KindLegacy:
		return "legacy"
	case KindStandard:
		return "standard"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as produced by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live":
		return KindLive, nil
	case "legacy":
		return KindLegacy, nil
	case "standard":
		return KindStandard, nil
	default:
		return KindUnset, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Strategy returns how addresses of this kind are derived.
func (k Kind) Strategy() Strategy {
	switch k {
	case KindLive:
		return StrategyPerIndex
	case KindLegacy, KindStandard:
		return StrategyBulk
	default:
		return StrategyNone
	}
}

const hardened = hdkeychain.HardenedKeyStart

var (
	// ProbePath is the fixed path used for liveness probes.
	ProbePath = accounts.DerivationPath{hardened + 44, hardened + 60, hardened + 0, 0}

	legacyBase   = accounts.DerivationPath{hardened + 44, hardened + 60, hardened + 0}
	standardBase = accounts.DerivationPath{hardened + 44, hardened + 60, hardened + 0, 0}
)

// BasePath returns the parent path expanded by bulk kinds.
// It returns nil for per-index kinds.
func (k Kind) BasePath() accounts.DerivationPath {
	switch k {
	case KindLegacy:
		return clonePath(legacyBase)
	case KindStandard:
		return clonePath(standardBase)
	default:
		return nil
	}
}

// Path returns the full derivation path of the address at index.
func (k Kind) Path(index uint32) (accounts.DerivationPath, error) {
	switch k {
	case KindLive:
		return accounts.DerivationPath{hardened + 44, hardened + 60, hardened + index, 0, 0}, nil
	case KindLegacy, KindStandard:
		return append(k.BasePath(), index), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
}

func clonePath(p accounts.DerivationPath) accounts.DerivationPath {
	out := make(accounts.DerivationPath, len(p))
	copy(out, p)
	return out
}
