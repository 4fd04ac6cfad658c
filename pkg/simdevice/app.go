package simdevice

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/hw"
)

// Transport is an open handle to a simulated device.
type Transport struct {
	dev    *Device
	closed atomic.Bool
}

// Close releases the handle. Further calls fail with hw.ErrTransportClosed.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}

// Device returns the device behind the transport.
func (t *Transport) Device() *Device {
	return t.dev
}

// App is the signing application of a simulated device.
type App struct {
	t *Transport
}

// NewApp binds the signing application to t, which must come from a Provider.
func NewApp(t hw.Transport) hw.App {
	st, _ := t.(*Transport)
	return &App{t: st}
}

// exchange applies latency and injected conditions before fn runs.
func (a *App) exchange(ctx context.Context, needsApp bool, fn func(d *Device) error) error {
	if a.t == nil || a.t.closed.Load() {
		return hw.ErrTransportClosed
	}
	d := a.t.dev

	d.mu.Lock()
	latency := d.latency
	d.calls++
	d.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	d.mu.Lock()
	attached, locked, appOpen := d.attached, d.locked, d.appOpen
	d.mu.Unlock()

	switch {
	case !attached || a.t.closed.Load():
		return hw.ErrTransportClosed
	case locked:
		return hw.NewError(hw.CodeDeviceAsleep)
	case needsApp && !appOpen:
		return hw.NewError(hw.CodeAppNotOpen)
	}
	return fn(d)
}

// GetAddress returns the address, uncompressed public key and optionally
// the chain code at path.
func (a *App) GetAddress(ctx context.Context, path accounts.DerivationPath, _ bool, wantChainCode bool) (hw.AddressResult, error) {
	var res hw.AddressResult
	err := a.exchange(ctx, true, func(d *Device) error {
		key, err := d.deriveKey(path)
		if err != nil {
			return hw.Errorf(hw.CodeInvalidData, "%v", err)
		}
		pub, err := key.ECPubKey()
		if err != nil {
			return hw.Errorf(hw.CodeInvalidData, "%v", err)
		}
		res.PublicKey = pub.SerializeUncompressed()
		addr, err := derivation.AddressFromPublicKey(res.PublicKey)
		if err != nil {
			return hw.Errorf(hw.CodeInvalidData, "%v", err)
		}
		res.Address = addr
		if wantChainCode {
			res.ChainCode = chainCode(key)
		}
		return nil
	})
	return res, err
}

// GetAppConfiguration returns the configured application version.
func (a *App) GetAppConfiguration(ctx context.Context) (hw.AppConfiguration, error) {
	var cfg hw.AppConfiguration
	err := a.exchange(ctx, true, func(d *Device) error {
		d.mu.Lock()
		cfg.Version = d.version
		d.mu.Unlock()
		return nil
	})
	return cfg, err
}

// SignPersonalMessage signs the EIP-191 hash of message. V is 27 or 28.
func (a *App) SignPersonalMessage(ctx context.Context, path accounts.DerivationPath, message []byte) (hw.MessageSignature, error) {
	var out hw.MessageSignature
	err := a.exchange(ctx, true, func(d *Device) error {
		sig, err := d.sign(path, accounts.TextHash(message))
		if err != nil {
			return err
		}
		copy(out.R[:], sig[:32])
		copy(out.S[:], sig[32:64])
		out.V = sig[64] + 27
		return nil
	})
	return out, err
}

// SignTransaction signs the keccak256 hash of rawTx and returns R || S || V
// with V in {0, 1}.
func (a *App) SignTransaction(ctx context.Context, path accounts.DerivationPath, rawTx []byte) ([]byte, error) {
	var out []byte
	err := a.exchange(ctx, true, func(d *Device) error {
		if len(rawTx) == 0 {
			return hw.Errorf(hw.CodeInvalidData, "empty transaction")
		}
		sig, err := d.sign(path, crypto.Keccak256(rawTx))
		if err != nil {
			return err
		}
		out = sig
		return nil
	})
	return out, err
}

func (d *Device) sign(path accounts.DerivationPath, hash []byte) ([]byte, error) {
	key, err := d.deriveKey(path)
	if err != nil {
		return nil, hw.Errorf(hw.CodeInvalidData, "%v", err)
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, hw.Errorf(hw.CodeInvalidData, "%v", err)
	}
	ecdsaKey, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, hw.Errorf(hw.CodeInvalidData, "%v", err)
	}
	sig, err := crypto.Sign(hash, ecdsaKey)
	if err != nil {
		return nil, hw.Errorf(hw.CodeInvalidData, "%v", err)
	}
	return sig, nil
}

var _ hw.App = (*App)(nil)
