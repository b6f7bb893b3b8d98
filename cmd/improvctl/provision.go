package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/improvctl/internal/discovery"
	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/logging"
	"github.com/muurk/improvctl/internal/ui"
)

var errCancelled = errors.New("cancelled by user")

const defaultMDNSTimeout = 30 * time.Second

// Provision steps, numbered as the runner shows them.
const (
	stepOpen = iota + 1
	stepIdentify
	stepCredentials
	stepNetwork
)

type provisionFlags struct {
	ssid          string
	password      string
	passwordStdin bool
	verifyMDNS    bool
	mdnsTimeout   time.Duration
	yes           bool
}

func newProvisionCmd(a *app) *cobra.Command {
	var f provisionFlags

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Send Wi-Fi credentials to the device",
		Long: `Send Wi-Fi credentials and wait until the device reports it joined the
network. The device may answer with a URL where it can now be reached.

Without --password the password is prompted for on the terminal; leave it
empty for an open network. The password is never saved.`,
		Example: `  # Prompt for the password
  improvctl provision --ssid HomeNet

  # Scripted, then look the device up via mDNS
  echo "$WIFI_PASSWORD" | improvctl provision --ssid HomeNet --password-stdin --verify-mdns --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd, f)
			if err != nil {
				return err
			}
			verify := a.settings.VerifyMDNS
			if cmd.Flags().Changed("verify-mdns") {
				verify = f.verifyMDNS
			}
			return a.runProvision(cmd, f, password, verify)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.ssid, "ssid", "", "Network name (required)")
	flags.StringVar(&f.password, "password", "", "Network password (prompted when omitted)")
	flags.BoolVar(&f.passwordStdin, "password-stdin", false, "Read the password from the first line of stdin")
	flags.BoolVar(&f.verifyMDNS, "verify-mdns", false, "Look for the device on the network afterwards (default: preference)")
	flags.DurationVar(&f.mdnsTimeout, "mdns-timeout", defaultMDNSTimeout, "How long to look for the device on the network")
	flags.BoolVarP(&f.yes, "yes", "y", false, "Replace existing credentials without asking")
	_ = cmd.MarkFlagRequired("ssid")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")

	return cmd
}

// readPassword takes the password from the flag, stdin or a hidden terminal
// prompt, in that order. Without a terminal to prompt on, the network is
// treated as open.
func readPassword(cmd *cobra.Command, f provisionFlags) (string, error) {
	if cmd.Flags().Changed("password") {
		return f.password, nil
	}
	if f.passwordStdin {
		return readLine(cmd.InOrStdin())
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		logging.Debug("No terminal for a password prompt, provisioning as an open network")
		return "", nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Password for %q (empty for an open network): ", f.ssid)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) runProvision(cmd *cobra.Command, f provisionFlags, password string, verify bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	printer := ui.NewPrinter(out)

	port := a.settings.Port
	if port == "" {
		port = "auto"
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Provisioning",
		Command: "improvctl provision",
		Params: []ui.Detail{
			{Key: "Port", Value: port},
			{Key: "SSID", Value: f.ssid},
		},
		StepNames: []string{
			"Open port",
			"Identify device",
			"Send credentials",
			"Find device on network",
		},
		Output:          out,
		Troubleshooting: troubleshooting,
	})

	_, err := runner.Run(func(onStep ui.StepCallback) ([]ui.Detail, error) {
		onStep(stepOpen, ui.StepRunning, "")
		t, port, err := a.openTransport(ctx)
		if err != nil {
			onStep(stepOpen, ui.StepFailed, "")
			return nil, err
		}
		onStep(stepOpen, ui.StepComplete, port)

		client := improv.NewClient(t, a.clientOptions()...)
		defer client.Close()

		onStep(stepIdentify, ui.StepRunning, "")
		info, err := client.Initialize(ctx)
		if err != nil {
			onStep(stepIdentify, ui.StepFailed, "")
			return nil, err
		}
		a.recordIdentified(info, port)
		onStep(stepIdentify, ui.StepComplete, info.Name)

		if client.State() == improv.StateProvisioned && !f.yes {
			confirmed := printer.Confirm(cmd.InOrStdin(),
				info.Name+" is already provisioned",
				[]string{"Its Wi-Fi credentials will be replaced"},
				"Continue?",
			)
			if !confirmed {
				onStep(stepCredentials, ui.StepSkipped, "cancelled")
				return nil, errCancelled
			}
		}

		onStep(stepCredentials, ui.StepRunning, "")
		nextURL, err := client.Provision(ctx, f.ssid, password, a.settings.ProvisionTimeout)
		if err != nil {
			onStep(stepCredentials, ui.StepFailed, "")
			return nil, err
		}
		a.recordProvisioned(info.Name, f.ssid, nextURL)
		onStep(stepCredentials, ui.StepComplete, "joined "+f.ssid)

		details := []ui.Detail{
			{Key: "Device", Value: info.Name},
			{Key: "Network", Value: f.ssid},
		}
		if nextURL != "" {
			details = append(details, ui.Detail{Key: "URL", Value: nextURL})
		}

		if !verify {
			onStep(stepNetwork, ui.StepSkipped, "use --verify-mdns")
			return details, nil
		}

		onStep(stepNetwork, ui.StepRunning, "")
		device, err := discovery.FindDevice(ctx, info.Name, f.mdnsTimeout)
		if err != nil {
			// The device joined; not being visible over mDNS is only a warning.
			logging.Warn("Device not found via mDNS", zap.String("name", info.Name), zap.Error(err))
			onStep(stepNetwork, ui.StepFailed, "not seen via mDNS")
			return details, nil
		}
		onStep(stepNetwork, ui.StepComplete, device.IP)
		details = append(details, ui.Detail{Key: "Address", Value: device.BaseURL()})
		return details, nil
	})
	return err
}
