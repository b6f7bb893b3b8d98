package transport

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/muurk/improvctl/internal/logging"
)

// DefaultBaudRate is the rate ESPHome and most Improv firmware listen at.
const DefaultBaudRate = 115200

var (
	// ErrPortNotFound means the device path does not exist (unplugged or wrong name).
	ErrPortNotFound = errors.New("serial port not found")

	// ErrPortBusy means another process holds the port.
	ErrPortBusy = errors.New("serial port is busy")

	// ErrPermissionDenied means the user may not open the port.
	ErrPermissionDenied = errors.New("permission denied opening serial port")
)

// SerialPort is a serial device opened as an improv transport.
type SerialPort struct {
	port serial.Port
	path string

	closeOnce sync.Once
	closeErr  error
}

// OpenSerial opens path at 8N1 with the given baud rate (0 means
// DefaultBaudRate). DTR and RTS are both asserted, which leaves the usual
// ESP auto-reset circuit idle so the running firmware keeps its state.
func OpenSerial(path string, baud int) (*SerialPort, error) {
	if path == "" {
		return nil, errors.New("serial port path is required")
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}

	if err := port.SetDTR(true); err != nil {
		logging.Debug("Could not assert DTR", zap.String("port", path), zap.Error(err))
	}
	if err := port.SetRTS(true); err != nil {
		logging.Debug("Could not assert RTS", zap.String("port", path), zap.Error(err))
	}
	_ = port.ResetInputBuffer()

	logging.LogTransportEvent(path, "serial_opened")
	logging.Debug("Serial port configured", zap.String("port", path), zap.Int("baud", baud))

	return &SerialPort{port: port, path: path}, nil
}

// Path returns the device path.
func (p *SerialPort) Path() string {
	return p.path
}

// Read blocks until bytes arrive. An error means the port is gone.
func (p *SerialPort) Read(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if err != nil {
		if IsDisconnect(err) {
			logging.LogTransportEvent(p.path, "serial_unplugged")
		}
		return n, fmt.Errorf("read %s: %w", p.path, err)
	}
	if n > 0 {
		logging.LogRawBytes("serial rx", buf[:n])
	}
	return n, nil
}

func (p *SerialPort) Write(data []byte) (int, error) {
	logging.LogRawBytes("serial tx", data)
	n, err := p.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", p.path, err)
	}
	return n, nil
}

// Close releases the port. It unblocks a pending Read.
func (p *SerialPort) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.port.Close()
		logging.LogTransportEvent(p.path, "serial_closed")
	})
	return p.closeErr
}

// ListPorts returns the serial ports present on this machine, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

// IsDisconnect reports whether err means the device went away, as opposed to
// a configuration problem.
func IsDisconnect(err error) bool {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return false
	}
	switch portErr.Code() {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}

func classifyOpenError(path string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s", ErrPortNotFound, path)
		case serial.PortBusy:
			return fmt.Errorf("%w: %s", ErrPortBusy, path)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s (is your user in the dialout group?)", ErrPermissionDenied, path)
		}
	}
	return fmt.Errorf("open %s: %w", path, err)
}
