package hw

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts"
)

// Transport is an open, exclusive handle to a device.
type Transport interface {
	Close() error
}

// TransportProvider opens transports by device path.
type TransportProvider interface {
	Open(ctx context.Context, devicePath string) (Transport, error)
}

// AppFactory binds the signing application SDK to an open transport.
type AppFactory func(t Transport) App

// AddressResult is returned by App.GetAddress.
type AddressResult struct {
	// Address is the hex encoded account address.
	Address string

	// PublicKey is the uncompressed secp256k1 public key.
	PublicKey []byte

	// ChainCode is only set when requested.
	ChainCode []byte
}

// AppConfiguration is returned by App.GetAppConfiguration.
type AppConfiguration struct {
	// Version is the application version, "major.minor.patch".
	// Empty when the application does not report one.
	Version string
}

// MessageSignature is a recoverable signature over a personal message.
type MessageSignature struct {
	V byte
	R [32]byte
	S [32]byte
}

// App is the signing application running on the device. Every call blocks
// until the device answers; failures are returned as *DeviceError.
type App interface {
	GetAddress(ctx context.Context, path accounts.DerivationPath, display, wantChainCode bool) (AddressResult, error)
	GetAppConfiguration(ctx context.Context) (AppConfiguration, error)
	SignPersonalMessage(ctx context.Context, path accounts.DerivationPath, message []byte) (MessageSignature, error)

	// SignTransaction signs the unsigned transaction payload and returns
	// the 65-byte signature R || S || V with V in {0, 1}.
	SignTransaction(ctx context.Context, path accounts.DerivationPath, rawTx []byte) ([]byte, error)
}
