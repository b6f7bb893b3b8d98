package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/logging"
	"github.com/muurk/improvctl/internal/transport"
)

var (
	errNoPorts        = errors.New("no serial ports found")
	errAmbiguousPorts = errors.New("more than one serial port found")
)

// isBridgeURL reports whether port names a websocket serial bridge rather
// than a local device.
func isBridgeURL(port string) bool {
	lower := strings.ToLower(port)
	return strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}

// pickPort chooses the port to use when none was configured. Guessing
// between several ports could write to the wrong device, so only a single
// candidate is accepted.
func pickPort(ports []string) (string, error) {
	switch len(ports) {
	case 0:
		return "", fmt.Errorf("%w; plug in the device or pass --port", errNoPorts)
	case 1:
		return ports[0], nil
	default:
		return "", fmt.Errorf("%w (%s); pass --port", errAmbiguousPorts, strings.Join(ports, ", "))
	}
}

// resolvePort returns the configured port, or the only serial port present.
func (a *app) resolvePort() (string, error) {
	if a.settings.Port != "" {
		return a.settings.Port, nil
	}
	ports, err := transport.ListPorts()
	if err != nil {
		return "", err
	}
	port, err := pickPort(ports)
	if err != nil {
		return "", err
	}
	logging.Debug("Auto-detected serial port", zap.String("port", port))
	return port, nil
}

// openTransport connects to the device and returns the stream together with
// the port it was opened on.
func (a *app) openTransport(ctx context.Context) (improv.Transport, string, error) {
	port, err := a.resolvePort()
	if err != nil {
		return nil, "", err
	}

	if isBridgeURL(port) {
		conn, err := transport.DialWebSocket(ctx, port)
		if err != nil {
			return nil, port, err
		}
		return conn, port, nil
	}

	sp, err := transport.OpenSerial(port, a.settings.BaudRate)
	if err != nil {
		return nil, port, err
	}
	return sp, port, nil
}

// clientOptions builds the client options from the effective settings.
func (a *app) clientOptions(extra ...improv.Option) []improv.Option {
	opts := []improv.Option{
		improv.WithLogger(logging.ImprovLogger()),
		improv.WithIdentifyTimeout(a.settings.IdentifyTimeout),
		improv.WithScanTimeout(a.settings.ScanTimeout),
		improv.WithProvisionTimeout(a.settings.ProvisionTimeout),
	}
	return append(opts, extra...)
}

// session is an identified device connection.
type session struct {
	client *improv.Client
	port   string
	info   improv.DeviceInfo
}

// connect opens the transport and runs the identify handshake. The caller
// closes the returned client.
func (a *app) connect(ctx context.Context, extra ...improv.Option) (*session, error) {
	t, port, err := a.openTransport(ctx)
	if err != nil {
		return nil, err
	}

	client := improv.NewClient(t, a.clientOptions(extra...)...)
	info, err := client.Initialize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("no Improv device answered on %s: %w", port, err)
	}

	logging.Info("Device identified",
		zap.String("port", port),
		zap.String("name", info.Name),
		zap.String("firmware", info.Firmware),
		zap.String("state", client.State().String()),
	)
	a.recordIdentified(info, port)
	return &session{client: client, port: port, info: info}, nil
}

// troubleshooting maps a failure to tips shown under the error box.
func troubleshooting(err error) []string {
	if code, ok := improv.DeviceErrorCode(err); ok {
		switch code {
		case improv.ErrorUnableToConnect:
			return []string{
				"Check the Wi-Fi password",
				"Make sure the network is 2.4 GHz and in range of the device",
			}
		case improv.ErrorNotAuthorized:
			return []string{"Press the button on the device to authorize it, then try again"}
		default:
			return []string{"The device reported: " + code.Description()}
		}
	}

	switch {
	case errors.Is(err, errNoPorts):
		return []string{
			"Check the USB cable carries data, not just power",
			"List ports with: improvctl ports",
		}
	case errors.Is(err, errAmbiguousPorts):
		return []string{
			"Pick one with --port",
			"Or save it: improvctl config set port <path>",
		}
	case errors.Is(err, transport.ErrPortNotFound):
		return []string{
			"Check the device is plugged in",
			"List ports with: improvctl ports",
		}
	case errors.Is(err, transport.ErrPortBusy):
		return []string{"Close other programs using the port, such as serial monitors or log viewers"}
	case errors.Is(err, transport.ErrPermissionDenied):
		return []string{"On Linux, add your user to the dialout group and log in again"}
	case errors.Is(err, improv.ErrScanUnsupported):
		return []string{"Provision without scanning: improvctl provision --ssid <name>"}
	case errors.Is(err, improv.ErrDisconnected):
		return []string{
			"The device was unplugged or reset",
			"Reconnect it and run the command again",
		}
	case errors.Is(err, improv.ErrTimeout):
		return []string{
			"Make sure the firmware has Improv serial enabled",
			"Check the baud rate (--baud)",
			"Reset the device and try again",
		}
	}
	return nil
}
