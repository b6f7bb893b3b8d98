// Improvctl provisions Wi-Fi credentials onto devices that speak the Improv
// serial protocol, such as ESPHome firmware on an ESP32.
//
// It talks to the device over a local serial port or through a websocket
// serial bridge (another improvctl running "bridge" on the machine the
// device is plugged into).
//
// Usage:
//
//	improvctl [command] [flags]
//
// Running without arguments launches the interactive wizard.
// See 'improvctl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/muurk/improvctl/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logging.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
