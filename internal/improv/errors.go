package improv

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a command is issued while another is outstanding.
	ErrBusy = errors.New("improv: another command is in flight")

	// ErrTimeout is returned when the device does not answer before the deadline.
	ErrTimeout = errors.New("improv: timed out waiting for device")

	// ErrScanUnsupported is returned by Scan when the firmware lacks the scan RPC.
	ErrScanUnsupported = errors.New("improv: device does not support network scan")

	// ErrDisconnected is returned once the transport has terminated.
	ErrDisconnected = errors.New("improv: device disconnected")

	// ErrProtocolViolation is returned when the device answers with a frame
	// that cannot be interpreted.
	ErrProtocolViolation = errors.New("improv: protocol violation")

	// ErrSessionFailed is returned for commands issued after the session
	// entered the ERROR state.
	ErrSessionFailed = errors.New("improv: session failed")

	// ErrInvalidInput is returned for arguments rejected before any I/O.
	ErrInvalidInput = errors.New("improv: invalid input")
)

// DeviceError is an error code explicitly reported by the device while a
// command was outstanding.
type DeviceError struct {
	Code    ErrorState
	Command Opcode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("improv: device reported %s during %s", e.Code, e.Command)
}

// IsDeviceError reports whether err carries a device error with the given code.
func IsDeviceError(err error, code ErrorState) bool {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code == code
	}
	return false
}

// DeviceErrorCode extracts the device error code from err, if any.
func DeviceErrorCode(err error) (ErrorState, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code, true
	}
	return ErrorNone, false
}

// FramingError describes a frame the decoder discarded. It never escapes a
// public call; the client reports it to the logger and resynchronizes.
type FramingError struct {
	Reason string
	Type   PacketType
	Raw    []byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("improv: dropped %s frame (%d bytes): %s", e.Type, len(e.Raw), e.Reason)
}

// IsRetryable reports whether the caller may reasonably retry after err.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrBusy):
		return true
	case IsDeviceError(err, ErrorUnableToConnect):
		return true
	default:
		return false
	}
}
