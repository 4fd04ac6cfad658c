package hw

import "fmt"

// Code is a device status word or a synthetic error code.
type Code int32

const (
	// CodeSuccess indicates the call completed.
	CodeSuccess Code = 0x9000

	// CodeDeviceAsleep indicates the device screen is locked.
	CodeDeviceAsleep Code = 0x6b0c

	// CodeDeviceLocked indicates the device is waiting for its PIN.
	CodeDeviceLocked Code = 0x5515

	// CodeAppNotOpen indicates the device is locked with no application open.
	CodeAppNotOpen Code = 0x6511

	// CodeClaNotSupported indicates the active application rejected the class byte.
	CodeClaNotSupported Code = 0x6e00

	// CodeWrongApp indicates another application is open.
	CodeWrongApp Code = 0x6e01

	// CodeInsNotSupported indicates the active application does not know the instruction.
	CodeInsNotSupported Code = 0x6d00

	// CodeUserRejected indicates the user refused the operation on the device.
	CodeUserRejected Code = 0x6985

	// CodeInvalidData indicates the device could not parse the request payload.
	CodeInvalidData Code = 0x6a80
)

// Synthetic codes produced by the host, never by a device. CodeUnknown
// tags failures that carried no status word at all, such as a lost
// transport or a failed key expansion.
const (
	CodeTimeout         Code = -1
	CodeAddressMismatch Code = -2
	CodeTransportBusy   Code = -3
	CodeUnknown         Code = -4
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeDeviceAsleep:
		return "DEVICE_ASLEEP"
	case CodeDeviceLocked:
		return "DEVICE_LOCKED"
	case CodeAppNotOpen:
		return "APP_NOT_OPEN"
	case CodeClaNotSupported:
		return "CLA_NOT_SUPPORTED"
	case CodeWrongApp:
		return "WRONG_APP"
	case CodeInsNotSupported:
		return "INS_NOT_SUPPORTED"
	case CodeUserRejected:
		return "USER_REJECTED"
	case CodeInvalidData:
		return "INVALID_DATA"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeAddressMismatch:
		return "ADDRESS_MISMATCH"
	case CodeTransportBusy:
		return "TRANSPORT_BUSY"
	case CodeUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("0x%04x", uint32(c)&0xffff)
	}
}

// IsSynthetic reports whether the code was produced by the host.
func (c Code) IsSynthetic() bool {
	return c < 0
}
