package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Device represents a device found on the network after provisioning
type Device struct {
	// Instance is the mDNS service instance name (ESPHome uses the node name)
	Instance string

	// Service is the service type it was found under (e.g., "_esphomelib._tcp")
	Service string

	// Hostname is the mDNS hostname (e.g., "living-room-sensor.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 when no IPv4 was advertised
	IP string

	// Port is the advertised service port
	Port int

	// Metadata contains the TXT record data
	// ESPHome fields: "version", "mac", "platform", "board", "friendly_name"
	Metadata map[string]string

	// DiscoveredAt is when the device was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.Instance, d.Hostname, net.JoinHostPort(d.IP, strconv.Itoa(d.Port)))
}

// BaseURL returns the HTTP base URL for the device's web interface
func (d *Device) BaseURL() string {
	port := d.Port
	if d.Service != HTTPService {
		port = DefaultPort
	}
	if port == DefaultPort {
		return "http://" + hostForURL(d.IP)
	}
	return "http://" + net.JoinHostPort(d.IP, strconv.Itoa(port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// FriendlyName returns the friendly_name TXT value, falling back to the
// instance name.
func (d *Device) FriendlyName() string {
	if name := d.GetMetadata("friendly_name"); name != "" {
		return name
	}
	return d.Instance
}

// Matches reports whether the device advertises the given device name, either
// as its instance name or as its hostname. ESPHome derives hostnames from
// node names by replacing underscores with hyphens, so both are compared in
// that form.
func (d *Device) Matches(name string) bool {
	want := NormalizeName(name)
	if want == "" {
		return false
	}
	return NormalizeName(d.Instance) == want || NormalizeName(d.Hostname) == want
}

// NormalizeName lowercases a device or host name, strips the .local suffix
// and maps underscores and spaces to hyphens.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".")
	name = strings.TrimSuffix(name, ".local")
	return strings.NewReplacer("_", "-", " ", "-").Replace(name)
}

func hostForURL(ip string) string {
	if strings.Contains(ip, ":") {
		return "[" + ip + "]"
	}
	return ip
}
