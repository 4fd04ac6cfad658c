package session

import "errors"

// Session errors.
var (
	ErrSessionClosed       = errors.New("session closed")
	ErrRequestDropped      = errors.New("request dropped")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrNotReady            = errors.New("session not ready")
	ErrNoDerivation        = errors.New("no derivation selected")
	ErrInvalidAccountLimit = errors.New("invalid account limit")
	ErrInvalidIndex        = errors.New("invalid account index")
	ErrAddressMismatch     = errors.New("address mismatch")
	ErrVerificationFailed  = errors.New("address verification failed")
)
