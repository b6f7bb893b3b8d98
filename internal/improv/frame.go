package improv

import (
	"fmt"
	"unicode/utf8"
)

// Frame is one checksum-validated packet.
type Frame struct {
	Type    PacketType
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{type=%s, len=%d}", f.Type, len(f.Payload))
}

// Command is an RPC request: an opcode plus string arguments.
type Command struct {
	Opcode Opcode
	Args   []string
}

// IdentifyCommand asks the device for its firmware and hardware description.
func IdentifyCommand() Command {
	return Command{Opcode: OpRequestInfo}
}

// ScanCommand asks the device to report nearby Wi-Fi networks.
func ScanCommand() Command {
	return Command{Opcode: OpRequestScan}
}

// StateCommand asks the device to report its current state.
func StateCommand() Command {
	return Command{Opcode: OpRequestCurrentState}
}

// ProvisionCommand carries Wi-Fi credentials.
func ProvisionCommand(ssid, password string) Command {
	return Command{Opcode: OpSendWiFiSettings, Args: []string{ssid, password}}
}

// Checksum returns the mod-256 sum of data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// EncodeFrame builds the wire bytes for a packet, including the trailing
// newline.
//
// Frame Structure:
//
//	[0-5]   "IMPROV"
//	[6]     ProtocolVersion
//	[7]     packet type
//	[8]     len(payload)
//	[9..]   payload
//	[N]     checksum over bytes 0..N-1
//	[N+1]   '\n'
func EncodeFrame(typ PacketType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload too large: %d bytes (max %d)", ErrInvalidInput, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, HeaderSize+len(payload)+2)
	frame = append(frame, Preamble...)
	frame = append(frame, ProtocolVersion, byte(typ), byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, Checksum(frame), frameTerminator)

	return frame, nil
}

// EncodeCommand builds the complete RPC frame for cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := EncodeRPCPayload(cmd.Opcode, cmd.Args)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(PacketRPC, payload)
}

// EncodeRPCPayload builds an RPC or RPC result payload.
//
// Payload Structure:
//
//	[0]     opcode
//	[1]     data length
//	[2..]   for each field: one length byte, then the UTF-8 bytes
func EncodeRPCPayload(op Opcode, fields []string) ([]byte, error) {
	data := make([]byte, 0, MaxRPCDataSize)
	for i, field := range fields {
		if !utf8.ValidString(field) {
			return nil, fmt.Errorf("%w: field %d is not valid UTF-8", ErrInvalidInput, i)
		}
		if len(field) > MaxRPCDataSize-1 {
			return nil, fmt.Errorf("%w: field %d too long: %d bytes", ErrInvalidInput, i, len(field))
		}
		data = append(data, byte(len(field)))
		data = append(data, field...)
	}
	if len(data) > MaxRPCDataSize {
		return nil, fmt.Errorf("%w: %s arguments too long: %d bytes (max %d)", ErrInvalidInput, op, len(data), MaxRPCDataSize)
	}

	payload := make([]byte, 0, len(data)+2)
	payload = append(payload, byte(op), byte(len(data)))
	return append(payload, data...), nil
}

// DecodeRPCPayload splits an RPC or RPC result payload into its opcode and
// string fields. Bytes past the declared data length are ignored.
func DecodeRPCPayload(payload []byte) (Opcode, []string, error) {
	if len(payload) < 2 {
		return 0, nil, fmt.Errorf("%w: rpc payload too short: %d bytes", ErrProtocolViolation, len(payload))
	}

	op := Opcode(payload[0])
	dataLen := int(payload[1])
	if 2+dataLen > len(payload) {
		return op, nil, fmt.Errorf("%w: rpc data length %d exceeds payload (%d bytes)", ErrProtocolViolation, dataLen, len(payload)-2)
	}

	data := payload[2 : 2+dataLen]
	fields := make([]string, 0, 4)
	for idx := 0; idx < len(data); {
		n := int(data[idx])
		idx++
		if idx+n > len(data) {
			return op, nil, fmt.Errorf("%w: field length %d overruns rpc data at offset %d", ErrProtocolViolation, n, idx-1)
		}
		fields = append(fields, string(data[idx:idx+n]))
		idx += n
	}

	return op, fields, nil
}

// DecodeCommand recovers the command carried by an RPC frame.
func DecodeCommand(f Frame) (Command, error) {
	if f.Type != PacketRPC {
		return Command{}, fmt.Errorf("%w: expected rpc frame, got %s", ErrProtocolViolation, f.Type)
	}
	op, args, err := DecodeRPCPayload(f.Payload)
	if err != nil {
		return Command{}, err
	}
	if len(args) == 0 {
		args = nil
	}
	return Command{Opcode: op, Args: args}, nil
}
