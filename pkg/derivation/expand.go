package derivation

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"
)

// Expansion errors.
var (
	ErrInvalidChainCode = errors.New("chain code must be 32 bytes")
	ErrInvalidCount     = errors.New("address count must be positive")
)

// ExpandFunc derives count ordered addresses from a parent public key and
// chain code. Address i is the non-hardened child i of the parent.
type ExpandFunc func(publicKey, chainCode []byte, count int) ([]string, error)

// Expand is the default ExpandFunc. It accepts compressed or uncompressed
// secp256k1 public keys and returns EIP-55 checksummed addresses.
func Expand(publicKey, chainCode []byte, count int) ([]string, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	if len(chainCode) != 32 {
		return nil, ErrInvalidChainCode
	}

	pub, err := btcec.ParsePubKey(publicKey, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	parent := hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPublicKeyID[:],
		pub.SerializeCompressed(),
		chainCode,
		[]byte{0, 0, 0, 0},
		0, 0, false,
	)

	addrs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		child, err := parent.Child(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", i, err)
		}
		childPub, err := child.ECPubKey()
		if err != nil {
			return nil, fmt.Errorf("child %d public key: %w", i, err)
		}
		addr, err := AddressFromPublicKey(childPub.SerializeUncompressed())
		if err != nil {
			return nil, fmt.Errorf("child %d address: %w", i, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// AddressFromPublicKey returns the checksummed address of a secp256k1 public key.
func AddressFromPublicKey(publicKey []byte) (string, error) {
	pub, err := btcec.ParsePubKey(publicKey, btcec.S256())
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	ecdsaPub, err := crypto.UnmarshalPubkey(pub.SerializeUncompressed())
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return crypto.PubkeyToAddress(*ecdsaPub).Hex(), nil
}
