package config

import (
	"sort"
	"time"

	"github.com/muurk/improvctl/internal/improv"
)

// Registry represents the entire user configuration file.
// This stores provisioning history and application preferences.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by the name the device reports
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device records what improvctl learned about one device.
// Keyed by the device name from the identify RPC in the Registry.
type Device struct {
	Firmware      string    `yaml:"firmware,omitempty"`
	Version       string    `yaml:"version,omitempty"`
	ChipFamily    string    `yaml:"chip_family,omitempty"`
	LastPort      string    `yaml:"last_port,omitempty"`      // Serial port or bridge URL last used
	LastSSID      string    `yaml:"last_ssid,omitempty"`      // Network it was last provisioned to
	NextURL       string    `yaml:"next_url,omitempty"`       // Redirect URL offered after provisioning
	LastSeen      time.Time `yaml:"last_seen,omitempty"`      // Last successful handshake
	ProvisionedAt time.Time `yaml:"provisioned_at,omitempty"` // Last successful provisioning
	// The Wi-Fi password is NEVER stored
}

// Preferences represents application-wide user preferences.
// Command-line flags take precedence over these values.
type Preferences struct {
	Port             string        `yaml:"port,omitempty"`      // Default serial port or ws:// bridge URL
	BaudRate         int           `yaml:"baud_rate,omitempty"` // Serial baud rate
	IdentifyTimeout  time.Duration `yaml:"identify_timeout,omitempty"`
	ScanTimeout      time.Duration `yaml:"scan_timeout,omitempty"`
	ProvisionTimeout time.Duration `yaml:"provision_timeout,omitempty"`
	LogLevel         string        `yaml:"log_level,omitempty"`
	BridgeAddr       string        `yaml:"bridge_addr,omitempty"` // Listen address for "improvctl bridge"
	VerifyMDNS       bool          `yaml:"verify_mdns"`           // Look for the device on the network after provisioning
}

// DefaultBridgeAddr is where "improvctl bridge" listens unless configured.
const DefaultBridgeAddr = ":8765"

func defaultPreferences() *Preferences {
	return &Preferences{
		BaudRate:         115200,
		IdentifyTimeout:  improv.DefaultIdentifyTimeout,
		ScanTimeout:      improv.DefaultScanTimeout,
		ProvisionTimeout: improv.DefaultProvisionTimeout,
		BridgeAddr:       DefaultBridgeAddr,
	}
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Devices:     make(map[string]*Device),
		Preferences: defaultPreferences(),
	}
}

// GetDevice retrieves a device record by name.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(name string) *Device {
	return r.Devices[name]
}

// EnsureDevice ensures a device entry exists in the registry.
// Returns the device entry (existing or newly created).
func (r *Registry) EnsureDevice(name string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}

	if device, exists := r.Devices[name]; exists {
		return device
	}

	device := &Device{}
	r.Devices[name] = device
	return device
}

// RecordIdentified stores the identify answer and the port it came through.
func (r *Registry) RecordIdentified(info improv.DeviceInfo, port string) *Device {
	device := r.EnsureDevice(info.Name)
	device.Firmware = info.Firmware
	device.Version = info.Version
	device.ChipFamily = info.ChipFamily
	device.LastPort = port
	device.LastSeen = time.Now()
	return device
}

// RecordProvisioned stores the network a device joined and where it can be
// reached now.
func (r *Registry) RecordProvisioned(name, ssid, nextURL string) *Device {
	device := r.EnsureDevice(name)
	device.LastSSID = ssid
	if nextURL != "" {
		device.NextURL = nextURL
	}
	device.ProvisionedAt = time.Now()
	return device
}

// RemoveDevice deletes a device record. Returns false if it did not exist.
func (r *Registry) RemoveDevice(name string) bool {
	if _, ok := r.Devices[name]; !ok {
		return false
	}
	delete(r.Devices, name)
	return true
}

// DeviceNames returns the recorded device names, sorted.
func (r *Registry) DeviceNames() []string {
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
