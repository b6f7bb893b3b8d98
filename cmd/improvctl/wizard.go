package main

import (
	"github.com/spf13/cobra"

	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/ui"
	"github.com/muurk/improvctl/internal/wizard"
)

func newWizardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Launch the interactive provisioning wizard",
		Long: `Launch a full-screen wizard that identifies the device, lists the
networks it can see and sends the credentials you pick.

This is the recommended way to provision a device by hand.`,
		Example: `  # Launch wizard with auto-detected port
  improvctl wizard
  # Or simply (wizard is default):
  improvctl

  # Through a serial bridge
  improvctl --port ws://pi.local:8765/serial`,
		Args: cobra.NoArgs,
		RunE: a.runWizard,
	}
}

func (a *app) runWizard(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	t, port, err := a.openTransport(ctx)
	if err != nil {
		return fail(cmd, "Unable to open the device", err, false)
	}

	client := improv.NewClient(t, a.clientOptions()...)
	defer client.Close()

	result, err := wizard.Run(ctx, client, wizard.Options{
		Port:             port,
		ProvisionTimeout: a.settings.ProvisionTimeout,
	})
	if result.Identified {
		a.recordIdentified(result.Info, port)
	}
	if result.SSID != "" {
		a.recordProvisioned(result.Info.Name, result.SSID, result.NextURL)
	}
	if err != nil {
		return err
	}

	// The alternate screen is gone once the program exits; leave a summary.
	p := ui.NewPrinter(cmd.OutOrStdout())
	switch {
	case result.SSID != "":
		summary := ui.NewSuccessResult("Provisioned "+result.Info.Name,
			ui.Detail{Key: "Network", Value: result.SSID},
			ui.Detail{Key: "Port", Value: port},
		)
		summary.AddDetail("URL", result.NextURL)
		p.PrintResult(summary)
	case result.Provisioned:
		summary := ui.NewWarningResult(result.Info.Name + " is already provisioned")
		summary.AddDetail("URL", result.NextURL)
		p.PrintResult(summary)
	case result.Err != nil:
		return fail(cmd, "Wizard ended with an error", result.Err, false)
	}
	return nil
}
