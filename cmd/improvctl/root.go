package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/improvctl/internal/config"
	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/logging"
	"github.com/muurk/improvctl/internal/transport"
	"github.com/muurk/improvctl/internal/version"
)

// app carries the global flags and the state shared by every command.
type app struct {
	// Persistent flags
	port             string
	baud             int
	configPath       string
	logLevel         string
	logFile          string
	identifyTimeout  time.Duration
	scanTimeout      time.Duration
	provisionTimeout time.Duration

	registry     *config.Registry
	registryPath string
	settings     settings
}

// settings are the effective values after merging flags, preferences and
// defaults.
type settings struct {
	Port             string
	BaudRate         int
	IdentifyTimeout  time.Duration
	ScanTimeout      time.Duration
	ProvisionTimeout time.Duration
	LogLevel         string
	BridgeAddr       string
	VerifyMDNS       bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "improvctl",
		Short: "Improv Wi-Fi provisioning over serial",
		Long: `Provision Wi-Fi credentials onto devices that speak the Improv serial
protocol, such as ESPHome firmware on an ESP32.

The device is reached through a local serial port or, with a ws:// URL as
--port, through "improvctl bridge" running on the machine it is plugged into.

If no command is specified, the interactive wizard will launch automatically.`,
		Version:           version.Version,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runWizard,
	}

	// Disable automatic completion command generation
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&a.port, "port", "p", "", "Serial port or ws:// bridge URL (default: preference, else the only port present)")
	pf.IntVar(&a.baud, "baud", transport.DefaultBaudRate, "Serial baud rate")
	pf.StringVar(&a.configPath, "config", "", "Config file (default: ~/.config/improvctl/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $"+logging.LogLevelEnvVar+", else silent)")
	pf.StringVar(&a.logFile, "log-file", "", "Also write logs to this file, rotated at 10 MB")
	pf.DurationVar(&a.identifyTimeout, "identify-timeout", improv.DefaultIdentifyTimeout, "How long to wait for the device to answer")
	pf.DurationVar(&a.scanTimeout, "scan-timeout", improv.DefaultScanTimeout, "How long a network scan may take")
	pf.DurationVar(&a.provisionTimeout, "provision-timeout", improv.DefaultProvisionTimeout, "How long to wait for the device to join the network")

	root.AddCommand(
		newWizardCmd(a),
		newInfoCmd(a),
		newScanCmd(a),
		newStateCmd(a),
		newProvisionCmd(a),
		newWatchCmd(a),
		newBridgeCmd(a),
		newPortsCmd(a),
		newDevicesCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the config file, merges it with the flags and starts logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	path := a.configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	registry, err := config.LoadRegistryFrom(path)
	if err != nil {
		return err
	}
	a.registry = registry
	a.registryPath = path
	a.settings = a.resolve(registry.Preferences, cmd.Flags().Changed, os.Getenv)

	if err := logging.Setup(logging.Options{Level: a.settings.LogLevel, File: a.logFile}); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logging.Debug("Configuration loaded",
		zap.String("path", path),
		zap.String("port", a.settings.Port),
		zap.Int("baud", a.settings.BaudRate),
	)
	return nil
}

// resolve merges flag values over preferences over built-in defaults. A flag
// only wins when it was set on the command line. The log level also honours
// the environment between the flag and the preference.
func (a *app) resolve(prefs *config.Preferences, changed func(string) bool, getenv func(string) string) settings {
	if prefs == nil {
		prefs = &config.Preferences{}
	}

	s := settings{
		Port:             prefs.Port,
		BaudRate:         prefs.BaudRate,
		IdentifyTimeout:  prefs.IdentifyTimeout,
		ScanTimeout:      prefs.ScanTimeout,
		ProvisionTimeout: prefs.ProvisionTimeout,
		LogLevel:         prefs.LogLevel,
		BridgeAddr:       prefs.BridgeAddr,
		VerifyMDNS:       prefs.VerifyMDNS,
	}

	if changed("port") {
		s.Port = a.port
	}
	if changed("baud") || s.BaudRate <= 0 {
		s.BaudRate = a.baud
	}
	if changed("identify-timeout") || s.IdentifyTimeout <= 0 {
		s.IdentifyTimeout = a.identifyTimeout
	}
	if changed("scan-timeout") || s.ScanTimeout <= 0 {
		s.ScanTimeout = a.scanTimeout
	}
	if changed("provision-timeout") || s.ProvisionTimeout <= 0 {
		s.ProvisionTimeout = a.provisionTimeout
	}
	if s.BridgeAddr == "" {
		s.BridgeAddr = config.DefaultBridgeAddr
	}

	switch {
	case changed("log-level"):
		s.LogLevel = a.logLevel
	case getenv(logging.LogLevelEnvVar) != "":
		s.LogLevel = getenv(logging.LogLevelEnvVar)
	}

	return s
}

// save writes the registry back. Failing to record history never fails the
// command that produced it.
func (a *app) save() {
	if a.registry == nil {
		return
	}
	if err := a.registry.SaveTo(a.registryPath); err != nil {
		logging.Warn("Failed to save config", zap.String("path", a.registryPath), zap.Error(err))
	}
}

func (a *app) recordIdentified(info improv.DeviceInfo, port string) {
	if a.registry == nil || info.Name == "" {
		return
	}
	a.registry.RecordIdentified(info, port)
	a.save()
}

func (a *app) recordProvisioned(name, ssid, nextURL string) {
	if a.registry == nil || name == "" {
		return
	}
	a.registry.RecordProvisioned(name, ssid, nextURL)
	a.save()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
		},
	}
}
