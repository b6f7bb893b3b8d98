// Package improvtest provides a simulated Improv device for tests.
//
// The device runs on one end of an in-memory pipe and answers RPCs the way
// ESPHome firmware does, with switches for the failure modes a client has to
// survive: silence, missing scan support, failed association and a device
// that never finishes provisioning.
package improvtest

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/improvctl/internal/improv"
)

// Device is a scripted Improv device.
type Device struct {
	// Info is returned for the identify RPC
	Info []string

	// State is the state reported before any provisioning (default READY)
	State improv.DeviceState

	// Networks holds scan results; each inner slice is sent as one frame
	Networks [][]improv.Ssid

	// ScanUnsupported makes the scan RPC fail with UNKNOWN_RPC_COMMAND
	ScanUnsupported bool

	// Silent makes the device ignore every command
	Silent bool

	// RedirectURL is returned once provisioned
	RedirectURL string

	// ProvisionDelay is how long association takes
	ProvisionDelay time.Duration

	// AckFirst acknowledges the credentials before association completes.
	// Otherwise the acknowledgement follows the PROVISIONED report.
	AckFirst bool

	// FailProvision reports UNABLE_TO_CONNECT instead of PROVISIONED
	FailProvision bool

	// NeverProvision leaves the device in PROVISIONING forever
	NeverProvision bool

	// Console is printed before the first frame the device sends
	Console string

	mu       sync.Mutex
	conn     net.Conn
	commands []improv.Command
	ssid     string
	password string
	printed  bool

	writeMu sync.Mutex
}

// DefaultInfo is a typical ESPHome identify answer.
var DefaultInfo = []string{"ESPHome", "2024.6.0", "ESP32-C3", "living-room-sensor"}

// NewDevice returns a READY device with DefaultInfo.
func NewDevice() *Device {
	return &Device{
		Info:  append([]string(nil), DefaultInfo...),
		State: improv.StateReady,
	}
}

// Pipe starts the device on one end of an in-memory pipe and returns the
// other end for the client.
func Pipe(d *Device) net.Conn {
	clientEnd, deviceEnd := net.Pipe()
	d.mu.Lock()
	d.conn = deviceEnd
	if d.State == improv.StateConnecting {
		d.State = improv.StateReady
	}
	d.mu.Unlock()
	go d.serve(deviceEnd)
	return clientEnd
}

// Commands returns every command received so far.
func (d *Device) Commands() []improv.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]improv.Command(nil), d.commands...)
}

// CommandCount returns how many commands with op were received.
func (d *Device) CommandCount(op improv.Opcode) int {
	n := 0
	for _, cmd := range d.Commands() {
		if cmd.Opcode == op {
			n++
		}
	}
	return n
}

// Credentials returns the last SSID and password received.
func (d *Device) Credentials() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ssid, d.password
}

// CurrentState returns the state the device believes it is in.
func (d *Device) CurrentState() improv.DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State
}

// SetSilent switches whether the device ignores commands.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	d.Silent = silent
	d.mu.Unlock()
}

// Disconnect closes the device end of the pipe, as if the cable was pulled.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return errors.New("improvtest: device not started")
	}
	return conn.Close()
}

// SendFrame writes a raw frame to the client.
func (d *Device) SendFrame(typ improv.PacketType, payload []byte) error {
	frame, err := improv.EncodeFrame(typ, payload)
	if err != nil {
		return err
	}
	return d.Write(frame)
}

// SendState reports state to the client.
func (d *Device) SendState(state improv.DeviceState) error {
	d.mu.Lock()
	d.State = state
	d.mu.Unlock()
	return d.SendFrame(improv.PacketCurrentState, []byte{byte(state)})
}

// SendError reports an error code to the client.
func (d *Device) SendError(code improv.ErrorState) error {
	return d.SendFrame(improv.PacketErrorState, []byte{byte(code)})
}

// SendResult sends an RPC result for op.
func (d *Device) SendResult(op improv.Opcode, fields ...string) error {
	payload, err := improv.EncodeRPCPayload(op, fields)
	if err != nil {
		return err
	}
	return d.SendFrame(improv.PacketRPCResult, payload)
}

// Write sends raw bytes to the client.
func (d *Device) Write(data []byte) error {
	d.mu.Lock()
	conn := d.conn
	console := ""
	if !d.printed {
		d.printed = true
		console = d.Console
	}
	d.mu.Unlock()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if console != "" {
		if _, err := conn.Write([]byte(console)); err != nil {
			return err
		}
	}
	_, err := conn.Write(data)
	return err
}

func (d *Device) serve(conn net.Conn) {
	decoder := improv.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for _, frame := range decoder.Feed(buf[:n]) {
			if frame.Type != improv.PacketRPC {
				continue
			}
			cmd, err := improv.DecodeCommand(frame)
			if err != nil {
				_ = d.SendError(improv.ErrorInvalidRPC)
				continue
			}
			d.mu.Lock()
			d.commands = append(d.commands, cmd)
			silent := d.Silent
			d.mu.Unlock()
			if !silent {
				d.handle(cmd)
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *Device) handle(cmd improv.Command) {
	d.mu.Lock()
	state := d.State
	url := d.RedirectURL
	d.mu.Unlock()

	switch cmd.Opcode {
	case improv.OpRequestInfo:
		_ = d.SendResult(cmd.Opcode, d.Info...)

	case improv.OpRequestCurrentState:
		_ = d.SendState(state)
		if state == improv.StateProvisioned {
			_ = d.SendResult(cmd.Opcode, urlFields(url)...)
		}

	case improv.OpRequestScan:
		if d.ScanUnsupported {
			_ = d.SendError(improv.ErrorUnknownCommand)
			return
		}
		for _, page := range d.Networks {
			_ = d.SendResult(cmd.Opcode, networkFields(page)...)
		}
		_ = d.SendResult(cmd.Opcode)

	case improv.OpSendWiFiSettings:
		if len(cmd.Args) != 2 {
			_ = d.SendError(improv.ErrorInvalidRPC)
			return
		}
		d.mu.Lock()
		d.ssid, d.password = cmd.Args[0], cmd.Args[1]
		d.mu.Unlock()

		_ = d.SendState(improv.StateProvisioning)
		if d.AckFirst {
			_ = d.SendResult(cmd.Opcode, urlFields(url)...)
		}
		time.AfterFunc(d.ProvisionDelay, func() { d.finishProvisioning(cmd.Opcode, url) })

	default:
		_ = d.SendError(improv.ErrorUnknownCommand)
	}
}

func (d *Device) finishProvisioning(op improv.Opcode, url string) {
	switch {
	case d.NeverProvision:
		return
	case d.FailProvision:
		_ = d.SendError(improv.ErrorUnableToConnect)
		_ = d.SendState(improv.StateReady)
	default:
		_ = d.SendState(improv.StateProvisioned)
		if !d.AckFirst {
			_ = d.SendResult(op, urlFields(url)...)
		}
	}
}

func urlFields(url string) []string {
	if url == "" {
		return nil
	}
	return []string{url}
}

func networkFields(page []improv.Ssid) []string {
	fields := make([]string, 0, len(page)*3)
	for _, n := range page {
		secured := "NO"
		if n.Secured {
			secured = "YES"
		}
		fields = append(fields, n.Name, strconv.Itoa(n.RSSI), secured)
	}
	return fields
}
