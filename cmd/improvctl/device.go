package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/ui"
)

// deviceReport is the --json form of info and state.
type deviceReport struct {
	Port    string            `json:"port"`
	Device  improv.DeviceInfo `json:"device"`
	State   string            `json:"state"`
	Error   string            `json:"error,omitempty"`
	NextURL string            `json:"next_url,omitempty"`
}

func newDeviceReport(s *session) deviceReport {
	report := deviceReport{
		Port:    s.port,
		Device:  s.info,
		State:   s.client.State().String(),
		NextURL: s.client.NextURL(),
	}
	if code, ok := s.client.Error(); ok && code != improv.ErrorNone {
		report.Error = code.String()
	}
	return report
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// fail prints a failure box unless the command is producing JSON, and
// returns err for the exit status.
func fail(cmd *cobra.Command, title string, err error, jsonOut bool) error {
	if !jsonOut {
		ui.NewPrinter(cmd.OutOrStdout()).PrintError(title, err, troubleshooting(err))
	}
	return err
}

func newInfoCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Identify the device and show its firmware and state",
		Long: `Run the Improv identify handshake and print what the device reports:
firmware, version, chip family, name and its provisioning state.`,
		Example: `  # Auto-detect the serial port
  improvctl info

  # Through a bridge, as JSON
  improvctl info --port ws://pi.local:8765/serial --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return fail(cmd, "Identify failed", err, jsonOut)
			}
			defer s.client.Close()

			report := newDeviceReport(s)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			p := ui.NewPrinter(cmd.OutOrStdout())
			p.PrintHeader("Device Info", "improvctl info", ui.Detail{Key: "Port", Value: s.port})
			result := ui.NewSuccessResult(s.info.Name, ui.DeviceInfoDetails(s.info)...)
			result.AddDetail("State", report.State)
			result.AddDetail("Error", report.Error)
			result.AddDetail("URL", report.NextURL)
			p.PrintResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON instead of a summary")
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Ask the device for its current provisioning state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return fail(cmd, "State request failed", err, jsonOut)
			}
			defer s.client.Close()

			if _, err := s.client.RequestState(cmd.Context()); err != nil {
				return fail(cmd, "State request failed", err, jsonOut)
			}

			report := newDeviceReport(s)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", s.info.Name, report.State)
			if report.Error != "" {
				fmt.Fprintf(out, "last error: %s\n", report.Error)
			}
			if report.NextURL != "" {
				fmt.Fprintf(out, "url: %s\n", report.NextURL)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON instead of text")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the Wi-Fi networks the device can see",
		Long: `Ask the device to scan for Wi-Fi networks and print them with signal
strength and whether they need a password.

Not every firmware supports scanning; use "improvctl provision --ssid"
for those.`,
		Example: `  improvctl scan
  improvctl scan --scan-timeout 30s --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return fail(cmd, "Scan failed", err, jsonOut)
			}
			defer s.client.Close()

			networks, err := s.client.Scan(cmd.Context())
			if err != nil {
				return fail(cmd, "Scan failed", err, jsonOut)
			}

			if jsonOut {
				if networks == nil {
					networks = []improv.Ssid{}
				}
				return writeJSON(cmd.OutOrStdout(), networks)
			}

			p := ui.NewPrinter(cmd.OutOrStdout())
			p.PrintHeader("Wi-Fi Networks", "improvctl scan",
				ui.Detail{Key: "Port", Value: s.port},
				ui.Detail{Key: "Device", Value: s.info.Name},
			)
			p.PrintNetworks(networks)
			p.Newline()
			p.Println("Use 'improvctl provision --ssid <network>' to connect the device")
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON instead of a table")
	return cmd
}
