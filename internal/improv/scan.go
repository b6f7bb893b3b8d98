package improv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Ssid is a Wi-Fi network reported by the device.
type Ssid struct {
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
	Secured bool   `json:"secured"`
}

// SignalBars maps RSSI to a 1-4 bar signal indicator.
func (s Ssid) SignalBars() int {
	switch {
	case s.RSSI >= -50:
		return 4
	case s.RSSI >= -60:
		return 3
	case s.RSSI >= -70:
		return 2
	default:
		return 1
	}
}

// networkAggregator accumulates scan result frames until the terminator.
// Each frame carries name, RSSI and security triples; a frame with no
// fields ends the scan.
type networkAggregator struct {
	networks []Ssid
	seen     map[string]struct{}
	frames   int
	skipped  int
}

func newNetworkAggregator() *networkAggregator {
	return &networkAggregator{seen: make(map[string]struct{})}
}

// add consumes one result frame and reports whether it was the terminator.
func (a *networkAggregator) add(fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	a.frames++

	for i := 0; i < len(fields); i += 3 {
		if i+3 > len(fields) {
			a.skipped++
			break
		}
		network, ok := parseNetwork(fields[i : i+3])
		if !ok {
			a.skipped++
			continue
		}
		if _, dup := a.seen[network.Name]; dup {
			continue
		}
		a.seen[network.Name] = struct{}{}
		a.networks = append(a.networks, network)
	}
	return false
}

func parseNetwork(record []string) (Ssid, bool) {
	name := record[0]
	if name == "" {
		return Ssid{}, false
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(record[1]))
	if err != nil {
		return Ssid{}, false
	}
	return Ssid{
		Name:    name,
		RSSI:    rssi,
		Secured: strings.EqualFold(strings.TrimSpace(record[2]), "YES"),
	}, true
}

// Scan asks the device for nearby networks and returns them in the order the
// device reported them, deduplicated by name (first occurrence wins).
//
// Firmware without scan support answers with UNKNOWN_RPC_COMMAND; Scan then
// returns ErrScanUnsupported so the caller can fall back to manual entry.
func (c *Client) Scan(ctx context.Context) ([]Ssid, error) {
	agg := newNetworkAggregator()

	_, err := c.rpc.send(ctx, ScanCommand(), c.config.ScanTimeout, agg.add)
	if err != nil {
		if IsDeviceError(err, ErrorUnknownCommand) {
			return nil, fmt.Errorf("%w: %w", ErrScanUnsupported, err)
		}
		if errors.Is(err, ErrTimeout) {
			c.log.Warn("network scan timed out", "frames", agg.frames)
		}
		return nil, err
	}

	if agg.skipped > 0 {
		c.log.Warn("skipped malformed scan records", "count", agg.skipped)
	}
	c.log.Info("network scan complete", "networks", len(agg.networks), "frames", agg.frames)

	return agg.networks, nil
}
