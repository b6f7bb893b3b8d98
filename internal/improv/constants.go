package improv

import "fmt"

// Frame layout constants
const (
	Preamble        = "IMPROV"
	ProtocolVersion = 0x01
	HeaderSize      = len(Preamble) + 3 // preamble + version + type + length
	MaxPayloadSize  = 0xFF

	// MaxRPCDataSize is the largest argument block an RPC payload can carry
	// (opcode and data length bytes take the rest).
	MaxRPCDataSize = MaxPayloadSize - 2

	frameTerminator = '\n'
)

// PacketType identifies the kind of frame on the wire.
type PacketType byte

const (
	PacketCurrentState PacketType = 0x01
	PacketErrorState   PacketType = 0x02
	PacketRPC          PacketType = 0x03
	PacketRPCResult    PacketType = 0x04
)

func (t PacketType) String() string {
	switch t {
	case PacketCurrentState:
		return "current_state"
	case PacketErrorState:
		return "error_state"
	case PacketRPC:
		return "rpc"
	case PacketRPCResult:
		return "rpc_result"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Opcode identifies an RPC command.
type Opcode byte

const (
	OpSendWiFiSettings    Opcode = 0x01
	OpRequestCurrentState Opcode = 0x02
	OpRequestInfo         Opcode = 0x03
	OpRequestScan         Opcode = 0x04
)

func (o Opcode) String() string {
	switch o {
	case OpSendWiFiSettings:
		return "send_wifi_settings"
	case OpRequestCurrentState:
		return "request_current_state"
	case OpRequestInfo:
		return "request_info"
	case OpRequestScan:
		return "request_scan"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}

// DeviceState is the lifecycle state of the device as seen by the client.
// Connecting, Error and Disconnected never appear on the wire.
type DeviceState byte

const (
	StateConnecting            DeviceState = 0x00
	StateAuthorizationRequired DeviceState = 0x01
	StateReady                 DeviceState = 0x02
	StateProvisioning          DeviceState = 0x03
	StateProvisioned           DeviceState = 0x04

	StateError        DeviceState = 0xF0
	StateDisconnected DeviceState = 0xF1
)

func (s DeviceState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthorizationRequired:
		return "AUTHORIZATION_REQUIRED"
	case StateReady:
		return "READY"
	case StateProvisioning:
		return "PROVISIONING"
	case StateProvisioned:
		return "PROVISIONED"
	case StateError:
		return "ERROR"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("STATE(0x%02x)", byte(s))
	}
}

// IsReported reports whether s is a state a device may send. The other
// states are set by the client only.
func (s DeviceState) IsReported() bool {
	return s >= StateAuthorizationRequired && s <= StateProvisioned
}

// IsTerminal reports whether no further commands may be issued in s.
func (s DeviceState) IsTerminal() bool {
	return s == StateError || s == StateDisconnected
}

// ErrorState is the error code reported by the device.
type ErrorState byte

const (
	ErrorNone            ErrorState = 0x00
	ErrorInvalidRPC      ErrorState = 0x01
	ErrorUnknownCommand  ErrorState = 0x02
	ErrorUnableToConnect ErrorState = 0x03
	ErrorNotAuthorized   ErrorState = 0x04
	ErrorUnknown         ErrorState = 0xFF
)

func (e ErrorState) String() string {
	switch e {
	case ErrorNone:
		return "NO_ERROR"
	case ErrorInvalidRPC:
		return "INVALID_RPC_PACKET"
	case ErrorUnknownCommand:
		return "UNKNOWN_RPC_COMMAND"
	case ErrorUnableToConnect:
		return "UNABLE_TO_CONNECT"
	case ErrorNotAuthorized:
		return "NOT_AUTHORIZED"
	case ErrorUnknown:
		return "UNKNOWN_ERROR"
	default:
		return fmt.Sprintf("ERROR(0x%02x)", byte(e))
	}
}

// Description returns a user-facing sentence for the error code.
func (e ErrorState) Description() string {
	switch e {
	case ErrorNone:
		return "No error"
	case ErrorInvalidRPC:
		return "Device rejected a malformed command"
	case ErrorUnknownCommand:
		return "Device does not support this command"
	case ErrorUnableToConnect:
		return "Unable to connect"
	case ErrorNotAuthorized:
		return "Device requires authorization"
	default:
		return fmt.Sprintf("Unknown error (%d)", byte(e))
	}
}
