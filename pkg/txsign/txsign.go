// Package txsign prepares transactions for a hardware signer and attaches
// the signatures it returns.
//
// The device signs the unsigned payload of a transaction:
//
//	legacy       rlp([nonce, gasPrice, gas, to, value, data, chainID, 0, 0])
//	dynamic fee  0x02 || rlp([chainID, nonce, tip, feeCap, gas, to, value, data, accessList])
//
// and returns R || S || V with V in {0, 1}. Applications older than 1.9.0
// cannot parse typed transactions, so dynamic fee transactions are converted
// to legacy ones priced at their fee cap first.
package txsign

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/TripleSpeeder/frame/pkg/version"
)

// Signing errors.
var (
	ErrUnsupportedType  = errors.New("unsupported transaction type")
	ErrInvalidSignature = errors.New("invalid signature length")
	ErrChainIDRequired  = errors.New("chain id required")
)

// SignFunc asks the device to sign an unsigned transaction payload.
type SignFunc func(ctx context.Context, payload []byte) ([]byte, error)

// SupportsTyped reports whether the application can sign dynamic fee
// transactions.
func SupportsTyped(v version.AppVersion) bool {
	return v.AtLeast(1, 9, 0)
}

// Compatible returns tx in a form the application can sign. Dynamic fee
// transactions are rewritten as legacy when the application is too old.
func Compatible(tx *types.Transaction, v version.AppVersion) *types.Transaction {
	if tx.Type() != types.DynamicFeeTxType || SupportsTyped(v) {
		return tx
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce(),
		GasPrice: new(big.Int).Set(tx.GasFeeCap()),
		Gas:      tx.Gas(),
		To:       tx.To(),
		Value:    new(big.Int).Set(tx.Value()),
		Data:     tx.Data(),
	})
}

// UnsignedPayload encodes the bytes the device hashes and signs.
func UnsignedPayload(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrChainIDRequired
	}

	switch tx.Type() {
	case types.LegacyTxType:
		return rlp.EncodeToBytes([]any{
			tx.Nonce(),
			tx.GasPrice(),
			tx.Gas(),
			tx.To(),
			tx.Value(),
			tx.Data(),
			chainID,
			uint(0),
			uint(0),
		})
	case types.DynamicFeeTxType:
		body, err := rlp.EncodeToBytes([]any{
			chainID,
			tx.Nonce(),
			tx.GasTipCap(),
			tx.GasFeeCap(),
			tx.Gas(),
			tx.To(),
			tx.Value(),
			tx.Data(),
			tx.AccessList(),
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{types.DynamicFeeTxType}, body...), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, tx.Type())
	}
}

// Sign converts tx for the application version, has sign produce a
// signature over its payload and returns the signed transaction.
func Sign(ctx context.Context, tx *types.Transaction, chainID *big.Int, v version.AppVersion, sign SignFunc) (*types.Transaction, error) {
	tx = Compatible(tx, v)

	payload, err := UnsignedPayload(tx, chainID)
	if err != nil {
		return nil, err
	}

	sig, err := sign(ctx, payload)
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSignature, len(sig))
	}

	signed, err := tx.WithSignature(types.LatestSignerForChainID(chainID), sig)
	if err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}
	return signed, nil
}
