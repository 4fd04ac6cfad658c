package simdevice

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/accounts"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultMnemonic is the well-known test mnemonic.
	DefaultMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	// DefaultVersion is the application version reported by default.
	DefaultVersion = "1.10.3"
)

// ErrEmptyMnemonic is returned for a blank mnemonic.
var ErrEmptyMnemonic = errors.New("empty mnemonic")

// Seed derives a 64-byte BIP-39 seed from a mnemonic and passphrase.
func Seed(mnemonic, passphrase string) []byte {
	normalized := strings.Join(strings.Fields(mnemonic), " ")
	return pbkdf2.Key([]byte(normalized), []byte("mnemonic"+passphrase), 2048, 64, sha512.New)
}

// Option configures a Device.
type Option func(*Device)

// WithVersion sets the reported application version. An empty version
// simulates an application that does not report one.
func WithVersion(v string) Option {
	return func(d *Device) { d.version = v }
}

// WithLatency delays every answer.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) { d.latency = latency }
}

// Device is a simulated signer. It is safe for concurrent use.
type Device struct {
	master *hdkeychain.ExtendedKey

	mu       sync.Mutex
	version  string
	latency  time.Duration
	locked   bool
	appOpen  bool
	attached bool
	calls    int
}

// New creates an attached, unlocked device with the signing application open.
func New(mnemonic, passphrase string, opts ...Option) (*Device, error) {
	if strings.TrimSpace(mnemonic) == "" {
		return nil, ErrEmptyMnemonic
	}
	master, err := hdkeychain.NewMaster(Seed(mnemonic, passphrase), &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	d := &Device{
		master:   master,
		version:  DefaultVersion,
		appOpen:  true,
		attached: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Lock puts the device to sleep.
func (d *Device) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = true
}

// Unlock wakes the device.
func (d *Device) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
}

// CloseApp returns the device to its dashboard.
func (d *Device) CloseApp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appOpen = false
}

// OpenApp opens the signing application.
func (d *Device) OpenApp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appOpen = true
}

// SetLatency changes the delay applied to every answer.
func (d *Device) SetLatency(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = latency
}

// SetVersion changes the reported application version.
func (d *Device) SetVersion(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = v
}

// Disconnect simulates pulling the cable. Open transports start failing.
func (d *Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = false
}

// Attach plugs the device back in.
func (d *Device) Attach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = true
}

// Attached reports whether the device is plugged in.
func (d *Device) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// Calls returns the number of application calls answered or refused.
func (d *Device) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// deriveKey walks path from the master key.
func (d *Device) deriveKey(path accounts.DerivationPath) (*hdkeychain.ExtendedKey, error) {
	key := d.master
	for _, index := range path {
		child, err := key.Child(index)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
		key = child
	}
	return key, nil
}

// chainCode extracts the chain code from the serialized extended key:
// version(4) depth(1) fingerprint(4) child(4) chaincode(32) key(33).
func chainCode(key *hdkeychain.ExtendedKey) []byte {
	raw := base58.Decode(key.String())
	out := make([]byte, 32)
	copy(out, raw[13:45])
	return out
}
