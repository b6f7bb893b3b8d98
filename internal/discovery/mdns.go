package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/improvctl/internal/logging"
)

const (
	// ESPHomeService is the native API service ESPHome devices advertise
	ESPHomeService = "_esphomelib._tcp"

	// HTTPService is advertised by devices running a web server
	HTTPService = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default HTTP port
	DefaultPort = 80
)

// DefaultServices are browsed when a Scanner has none configured.
var DefaultServices = []string{ESPHomeService, HTTPService}

// Scanner handles mDNS device discovery
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration

	// Services lists the service types to browse
	Services []string
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout:  DefaultScanTimeout,
		Services: append([]string(nil), DefaultServices...),
	}
}

// ScanForDevices discovers devices on the local network until the timeout
// and returns them in discovery order.
func (s *Scanner) ScanForDevices(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		devices []*Device
		seen    = make(map[string]bool)
	)
	err := s.browse(ctx, func(device *Device) bool {
		key := device.Service + "|" + device.Hostname + "|" + device.Instance
		mu.Lock()
		defer mu.Unlock()
		if !seen[key] {
			seen[key] = true
			devices = append(devices, device)
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

// WaitForDevice waits for a device advertising name. Freshly provisioned
// devices typically appear within a few seconds of joining the network.
func (s *Scanner) WaitForDevice(ctx context.Context, name string) (*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Device, 1)
	err := s.browse(ctx, func(device *Device) bool {
		if !device.Matches(name) {
			return false
		}
		select {
		case found <- device:
		default:
		}
		cancel()
		return true
	})
	if err != nil {
		return nil, err
	}

	select {
	case device := <-found:
		logging.Info("Device found on network",
			zap.String("name", name),
			zap.String("ip", device.IP),
			zap.String("service", device.Service),
		)
		return device, nil
	default:
		return nil, fmt.Errorf("device %q not found on the network within %s", name, s.Timeout)
	}
}

// browse runs one resolver per service until ctx ends, passing every parsed
// entry to handle. handle returning true stops that service's browse loop.
func (s *Scanner) browse(ctx context.Context, handle func(*Device) bool) error {
	services := s.Services
	if len(services) == 0 {
		services = DefaultServices
	}

	var wg sync.WaitGroup
	for _, service := range services {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return fmt.Errorf("failed to create mDNS resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			for entry := range entries {
				device := parseServiceEntry(entry, service)
				if device == nil {
					continue
				}
				logging.Debug("mDNS entry", zap.String("service", service), zap.String("instance", device.Instance), zap.String("ip", device.IP))
				if handle(device) {
					// Keep draining so the resolver can exit.
					for range entries {
					}
					return
				}
			}
		}(service)

		if err := resolver.Browse(ctx, service, ServiceDomain, entries); err != nil {
			return fmt.Errorf("failed to browse for %s services: %w", service, err)
		}
	}

	<-ctx.Done()
	// The resolver closes entries once ctx is done.
	wg.Wait()
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil for entries without a hostname or address.
func parseServiceEntry(entry *zeroconf.ServiceEntry, service string) *Device {
	if entry == nil || entry.HostName == "" {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Device{
		Instance:     entry.Instance,
		Service:      service,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// FindDevice waits for the named device with the given timeout.
func FindDevice(ctx context.Context, name string, timeout time.Duration) (*Device, error) {
	scanner := NewScanner()
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.WaitForDevice(ctx, name)
}
