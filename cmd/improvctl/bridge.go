package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/improvctl/internal/config"
	"github.com/muurk/improvctl/internal/transport"
	"github.com/muurk/improvctl/internal/ui"
)

// bridgeURL is the address remote clients pass as --port. An empty or
// wildcard host is replaced by this machine's hostname.
func bridgeURL(listen, path, hostname string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "ws://" + listen + path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = hostname
	}
	return "ws://" + net.JoinHostPort(host, port) + path
}

func newBridgeCmd(a *app) *cobra.Command {
	var (
		listen string
		path   string
	)

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Share a local serial port with a remote improvctl over WebSocket",
		Long: `Serve the local serial port to one remote client at a time, so a device
plugged into this machine can be provisioned from another one:

  improvctl --port ws://<this-host>:8765/serial

The port is opened when a client connects and closed when it leaves.`,
		Example: `  improvctl bridge --port /dev/ttyUSB0
  improvctl bridge --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, err := a.resolvePort()
			if err != nil {
				return fail(cmd, "Bridge failed", err, false)
			}
			if isBridgeURL(port) {
				return fmt.Errorf("bridge needs a local serial port, got %s", port)
			}

			if !cmd.Flags().Changed("listen") {
				listen = a.settings.BridgeAddr
			}
			baud := a.settings.BaudRate

			bridge, err := transport.NewBridge(transport.BridgeConfig{
				Addr: listen,
				Path: path,
				Open: func() (io.ReadWriteCloser, error) {
					sp, err := transport.OpenSerial(port, baud)
					if err != nil {
						return nil, err
					}
					return sp, nil
				},
			})
			if err != nil {
				return err
			}

			hostname, _ := os.Hostname()
			if hostname == "" {
				hostname = "localhost"
			}
			ui.NewPrinter(cmd.OutOrStdout()).PrintHeader("Serial Bridge", "improvctl bridge",
				ui.Detail{Key: "Serial port", Value: port},
				ui.Detail{Key: "Baud", Value: fmt.Sprint(baud)},
				ui.Detail{Key: "Connect with", Value: "--port " + bridgeURL(listen, path, hostname)},
			)
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop.")

			return bridge.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: preference, else "+config.DefaultBridgeAddr+")")
	cmd.Flags().StringVar(&path, "path", transport.DefaultBridgePath, "WebSocket endpoint path")
	return cmd
}
