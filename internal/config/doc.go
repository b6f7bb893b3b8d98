// Package config provides user configuration management for improvctl.
//
// This package manages a YAML-based configuration file holding preferences
// (default port, baud rate, timeouts, log level) and a registry of devices
// improvctl has talked to: what firmware they run, which port they were on,
// which network they were last provisioned to and the URL they offered.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/improvctl/config.yaml or $HOME/.config/improvctl/config.yaml
//   - macOS: $HOME/.config/improvctl/config.yaml
//   - Windows: %LOCALAPPDATA%\improvctl\config.yaml
//
// # Security
//
// IMPORTANT: This package NEVER stores Wi-Fi passwords. They are always
// prompted from the user when needed.
//
// # Usage Example
//
//	path, err := config.GetConfigPath()
//	if err != nil {
//	    return err
//	}
//	registry, err := config.LoadRegistryFrom(path)
//	if err != nil {
//	    return err
//	}
//	registry.RecordIdentified(info, "/dev/ttyUSB0")
//	registry.RecordProvisioned(info.Name, "HomeNet", nextURL)
//	if err := registry.SaveTo(path); err != nil {
//	    return err
//	}
//
// # Writes
//
// SaveTo writes a temporary file and renames it over the old one, under a
// process-wide mutex.
package config
