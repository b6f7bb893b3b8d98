package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/improvctl/internal/config"
	"github.com/muurk/improvctl/internal/discovery"
	"github.com/muurk/improvctl/internal/logging"
	"github.com/muurk/improvctl/internal/transport"
	"github.com/muurk/improvctl/internal/ui"
)

func newPortsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found.")
				return nil
			}
			for _, port := range ports {
				marker := "  "
				if port == a.settings.Port {
					marker = "* "
				}
				fmt.Fprintln(out, marker+port)
			}
			return nil
		},
	}
}

func newDevicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Devices improvctl has identified or provisioned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printDevices(cmd.OutOrStdout(), a.registry)
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recorded devices",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				printDevices(cmd.OutOrStdout(), a.registry)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Forget a recorded device",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !a.registry.RemoveDevice(args[0]) {
					return fmt.Errorf("no device named %q", args[0])
				}
				if err := a.registry.SaveTo(a.registryPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			},
		},
		newDiscoverCmd(),
	)
	return cmd
}

func printDevices(out io.Writer, registry *config.Registry) {
	names := registry.DeviceNames()
	if len(names) == 0 {
		fmt.Fprintln(out, "No devices recorded yet.")
		return
	}

	rows := [][]string{{"NAME", "FIRMWARE", "NETWORK", "LAST PORT", "LAST SEEN"}}
	for _, name := range names {
		d := registry.GetDevice(name)
		firmware := strings.TrimSpace(d.Firmware + " " + d.Version)
		rows = append(rows, []string{name, firmware, d.LastSSID, d.LastPort, formatTime(d.LastSeen)})
	}
	printTable(out, rows)
}

// printTable left-aligns columns; the first row is the header.
func printTable(out io.Writer, rows [][]string) {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if r == 0 {
			line = ui.TableHeaderStyle.Render(line)
		}
		fmt.Fprintln(out, line)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find provisioned devices on the network via mDNS",
		Long: `Browse mDNS for ESPHome and HTTP services and list what answers. Use it
after provisioning to find the address a device got.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Browsing mDNS for %s...\n\n", timeout)

			scanner := discovery.NewScanner()
			scanner.Timeout = timeout
			devices, err := scanner.ScanForDevices(cmd.Context())
			if err != nil {
				return fmt.Errorf("discovery failed: %w", err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No devices found.")
				fmt.Fprintln(out, "\nTroubleshooting:")
				fmt.Fprintln(out, "  - Make sure this machine is on the same network as the device")
				fmt.Fprintln(out, "  - Some routers block multicast between Wi-Fi and wired clients")
				fmt.Fprintln(out, "  - Try increasing --timeout")
				return nil
			}

			rows := [][]string{{"NAME", "ADDRESS", "SERVICE"}}
			for _, d := range devices {
				rows = append(rows, []string{d.FriendlyName(), d.BaseURL(), d.Service})
			}
			printTable(out, rows)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultScanTimeout, "How long to listen")
	return cmd
}

// preferenceKeys are the names accepted by "config set", as they appear in
// the config file.
var preferenceKeys = []string{
	"baud_rate",
	"bridge_addr",
	"identify_timeout",
	"log_level",
	"port",
	"provision_timeout",
	"scan_timeout",
	"verify_mdns",
}

// setPreference parses value for key and stores it. An empty value resets
// the key to its zero value, which means "use the default".
func setPreference(prefs *config.Preferences, key, value string) error {
	parseDuration := func() (time.Duration, error) {
		if value == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", value, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("invalid duration %q: must be positive", value)
		}
		return d, nil
	}

	var err error
	switch key {
	case "port":
		prefs.Port = value
	case "baud_rate":
		if value == "" {
			prefs.BaudRate = 0
			return nil
		}
		var baud int
		baud, err = strconv.Atoi(value)
		if err == nil && baud <= 0 {
			err = fmt.Errorf("must be positive")
		}
		if err != nil {
			return fmt.Errorf("invalid baud rate %q: %w", value, err)
		}
		prefs.BaudRate = baud
	case "identify_timeout":
		prefs.IdentifyTimeout, err = parseDuration()
	case "scan_timeout":
		prefs.ScanTimeout, err = parseDuration()
	case "provision_timeout":
		prefs.ProvisionTimeout, err = parseDuration()
	case "log_level":
		if value != "" {
			if _, err := logging.ParseLevel(value); err != nil {
				return err
			}
		}
		prefs.LogLevel = strings.ToLower(value)
	case "bridge_addr":
		prefs.BridgeAddr = value
	case "verify_mdns":
		if value == "" {
			prefs.VerifyMDNS = false
			return nil
		}
		var verify bool
		verify, err = strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		prefs.VerifyMDNS = verify
	default:
		return fmt.Errorf("unknown key %q (one of: %s)", key, strings.Join(preferenceKeys, ", "))
	}
	return err
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change saved preferences",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), a.registryPath)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the saved preferences",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := yaml.Marshal(a.registry.Preferences)
				if err != nil {
					return fmt.Errorf("failed to marshal preferences: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:       "set <key> <value>",
			Short:     "Save a preference; an empty value restores the default",
			Long:      "Save a preference. Keys: " + strings.Join(preferenceKeys, ", ") + ".",
			Example:   "  improvctl config set port /dev/ttyUSB0\n  improvctl config set provision_timeout 90s",
			Args:      cobra.ExactArgs(2),
			ValidArgs: preferenceKeys,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := setPreference(a.registry.Preferences, args[0], args[1]); err != nil {
					return err
				}
				if err := a.registry.SaveTo(a.registryPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %q\n", args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}
