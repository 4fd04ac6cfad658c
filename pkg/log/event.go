package log

import (
	"strings"
	"time"
)

// Event represents a session log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the signer session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// DevicePath is the transport path of the device.
	DevicePath string `cbor:"3,keyasint,omitempty"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"`
	Request     *RequestEvent     `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
	Published   *PublishedEvent   `cbor:"13,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a session status change.
	CategoryState Category = 0
	// CategoryRequest indicates a settled device request.
	CategoryRequest Category = 1
	// CategoryError indicates a classified device error.
	CategoryError Category = 2
	// CategoryPublished indicates an event delivered to session listeners.
	CategoryPublished Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryRequest:
		return "REQUEST"
	case CategoryError:
		return "ERROR"
	case CategoryPublished:
		return "PUBLISHED"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	for _, c := range []Category{CategoryState, CategoryRequest, CategoryError, CategoryPublished} {
		if strings.EqualFold(c.String(), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return 0, false
}

// StateChangeEvent captures a session status transition.
type StateChangeEvent struct {
	// OldState is the previous status.
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new status.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// RequestEvent captures a request that ran on the device.
type RequestEvent struct {
	// Kind is the request kind name.
	Kind string `cbor:"1,keyasint"`

	// Outcome tells whether Execute returned an error.
	Outcome Outcome `cbor:"2,keyasint"`

	// Duration is the execution time, stored as nanoseconds.
	Duration time.Duration `cbor:"3,keyasint"`
}

// Outcome is the result of a request.
type Outcome uint8

const (
	// OutcomeSuccess indicates the request completed.
	OutcomeSuccess Outcome = 0
	// OutcomeFailure indicates the request failed.
	OutcomeFailure Outcome = 1
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures a classified device error.
type ErrorEventData struct {
	// Code is the device status code.
	Code int `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context is the status the error was classified into.
	Context string `cbor:"3,keyasint,omitempty"`
}

// PublishedEvent captures an event handed to session listeners.
type PublishedEvent struct {
	// Type is the event type name (update, lock, unlock, close).
	Type string `cbor:"1,keyasint"`

	// Status is the session status at publication.
	Status string `cbor:"2,keyasint,omitempty"`

	// AddressCount is the number of known addresses at publication.
	AddressCount int `cbor:"3,keyasint,omitempty"`
}
