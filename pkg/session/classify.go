package session

import "github.com/TripleSpeeder/frame/pkg/hw"

// Classify maps a device status code to the status it implies. It is total:
// unknown codes, including the synthetic ones, map to StatusNeedsReconnection.
func Classify(code hw.Code) Status {
	switch code {
	case hw.CodeDeviceAsleep, hw.CodeDeviceLocked:
		return StatusLocked
	case hw.CodeClaNotSupported, hw.CodeWrongApp, hw.CodeInsNotSupported, hw.CodeAppNotOpen:
		return StatusWrongApp
	default:
		return StatusNeedsReconnection
	}
}

// ClassifyError classifies the code carried by err.
func ClassifyError(err error) Status {
	return Classify(hw.CodeOf(err))
}
