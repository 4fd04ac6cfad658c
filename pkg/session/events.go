package session

// EventType identifies a published session event.
type EventType uint8

const (
	// EventUpdate - status or address list changed.
	EventUpdate EventType = iota

	// EventLock - the session entered LOCKED.
	EventLock

	// EventUnlock - the session left LOCKED after a successful probe.
	EventUnlock

	// EventClose - the session was torn down.
	EventClose
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventUpdate:
		return "update"
	case EventLock:
		return "lock"
	case EventUnlock:
		return "unlock"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a snapshot of the session taken when the event was raised.
type Event struct {
	Type       EventType
	SessionID  string
	DevicePath string
	Status     Status
	Addresses  []string
}

// EventHandler handles session events.
type EventHandler func(Event)
