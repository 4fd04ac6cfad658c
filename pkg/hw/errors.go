package hw

import (
	"errors"
	"fmt"
)

// Collaborator errors.
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrTransportClosed   = errors.New("transport closed")
	ErrChainCodeRequired = errors.New("chain code not returned by device")
)

// DeviceError is a failed device call tagged with its status code.
type DeviceError struct {
	Code    Code
	Message string
}

// NewError creates a DeviceError with the code's default message.
func NewError(code Code) *DeviceError {
	return &DeviceError{Code: code, Message: code.String()}
}

// Errorf creates a DeviceError with a formatted message.
func Errorf(code Code, format string, args ...any) *DeviceError {
	return &DeviceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *DeviceError) Error() string {
	if e.Message == "" || e.Message == e.Code.String() {
		return fmt.Sprintf("device error %s", e.Code)
	}
	return fmt.Sprintf("device error %s: %s", e.Code, e.Message)
}

// CodeOf extracts the status code carried by err. A nil error reports
// CodeSuccess; errors without a code report CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}
