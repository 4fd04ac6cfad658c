package session

// Status is the inferred state of the device.
type Status uint8

const (
	// StatusConnecting is the initial status while Connect runs.
	StatusConnecting Status = iota

	// StatusOK means the signing application is open and answering.
	StatusOK

	// StatusLoading means the application configuration is being reloaded.
	StatusLoading

	// StatusDeriving means an address derivation is in progress.
	StatusDeriving

	// StatusLocked means the device is asleep or waiting for its PIN.
	StatusLocked

	// StatusWrongApp means the signing application is not open.
	StatusWrongApp

	// StatusDisconnected means the session was closed.
	StatusDisconnected

	// StatusNeedsReconnection means the device stopped answering.
	StatusNeedsReconnection
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusOK:
		return "OK"
	case StatusLoading:
		return "LOADING"
	case StatusDeriving:
		return "DERIVING"
	case StatusLocked:
		return "LOCKED"
	case StatusWrongApp:
		return "WRONG_APP"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusNeedsReconnection:
		return "NEEDS_RECONNECTION"
	default:
		return "UNKNOWN"
	}
}

// IsReady returns true for statuses that accept signing work.
func (s Status) IsReady() bool {
	return s == StatusConnecting || s == StatusOK
}

// keepsOpen returns true for statuses a session survives after an error.
func (s Status) keepsOpen() bool {
	return s == StatusLocked || s.IsReady()
}
