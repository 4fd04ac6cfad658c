package session

import (
	"log/slog"
	"time"

	"github.com/TripleSpeeder/frame/pkg/derivation"
	"github.com/TripleSpeeder/frame/pkg/hw"
	"github.com/TripleSpeeder/frame/pkg/log"
	"github.com/TripleSpeeder/frame/pkg/metrics"
)

// MaxAccountLimit bounds the number of addresses a session derives.
const MaxAccountLimit = 100

// Config configures a Session.
type Config struct {
	// Provider opens the device transport. Required.
	Provider hw.TransportProvider

	// AppFactory binds the signing application to the transport. Required.
	AppFactory hw.AppFactory

	// Expand derives addresses from an extended public key.
	// Defaults to derivation.Expand when nil.
	Expand derivation.ExpandFunc

	// Derivation is the initial derivation kind (default: live).
	Derivation derivation.Kind

	// AccountLimit is the number of addresses to derive (default: 5).
	AccountLimit int

	// AddressTimeout bounds address fetches and liveness probes (default: 3s).
	// Zero disables the timeout.
	AddressTimeout time.Duration

	// AppConfigTimeout bounds application configuration reads (default: 1s).
	// Zero disables the timeout.
	AppConfigTimeout time.Duration

	// OKPollInterval is the probe interval while OK (default: 5s).
	OKPollInterval time.Duration

	// LockedPollInterval is the probe interval while LOCKED (default: 500ms).
	LockedPollInterval time.Duration

	// Logger is used for debug logging (optional).
	Logger *slog.Logger

	// EventLogger records state changes, requests and errors (optional).
	EventLogger log.Logger

	// Metrics receives instrumentation (optional).
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with sensible defaults. Provider and
// AppFactory must still be set.
func DefaultConfig() Config {
	return Config{
		Expand:             derivation.Expand,
		Derivation:         derivation.KindLive,
		AccountLimit:       5,
		AddressTimeout:     3000 * time.Millisecond,
		AppConfigTimeout:   1000 * time.Millisecond,
		OKPollInterval:     5000 * time.Millisecond,
		LockedPollInterval: 500 * time.Millisecond,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Provider == nil || c.AppFactory == nil {
		return ErrInvalidConfig
	}
	if c.AccountLimit <= 0 || c.AccountLimit > MaxAccountLimit {
		return ErrInvalidConfig
	}
	if c.AddressTimeout < 0 || c.AppConfigTimeout < 0 {
		return ErrInvalidConfig
	}
	if c.OKPollInterval <= 0 || c.LockedPollInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
