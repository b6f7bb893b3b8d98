package improv

import (
	"context"
	"fmt"
	"time"
)

// Provision sends Wi-Fi credentials and waits until the device reports
// PROVISIONED. The RPC acknowledgement alone only means the device accepted
// the credentials for an attempt; association happens afterwards and is
// announced by a state report.
//
// The returned URL is the first field of the acknowledgement, empty when the
// device offers none. On timeout the state machine is left in whatever state
// the device last reported and the caller may retry. A zero timeout uses the
// configured default.
func (c *Client) Provision(ctx context.Context, ssid, password string, timeout time.Duration) (string, error) {
	if ssid == "" {
		return "", fmt.Errorf("%w: ssid is required", ErrInvalidInput)
	}
	if timeout <= 0 {
		timeout = c.config.ProvisionTimeout
	}

	events, unsubscribe := c.sm.subscribe(8)
	defer unsubscribe()
	reports, unwatch := c.watchReports()
	defer unwatch()

	c.log.Info("provisioning device", "ssid", ssid, "timeout", timeout.String())

	p, err := c.rpc.start(ProvisionCommand(ssid, password), timeout, nil)
	if err != nil {
		return "", err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var (
		acked       bool
		provisioned bool
		nextURL     string
		grace       <-chan time.Time
		results     = p.done
	)
	for {
		select {
		case state := <-reports:
			if state != StateProvisioned || provisioned {
				continue
			}
			provisioned = true
			if acked {
				return c.provisioned(nextURL)
			}
			g := time.NewTimer(c.config.ResultGrace)
			defer g.Stop()
			grace = g.C

		case out := <-results:
			results = nil
			if out.err != nil {
				return "", out.err
			}
			acked = true
			if len(out.fields) > 0 {
				nextURL = out.fields[0]
			}
			c.setNextURL(out.fields)
			if provisioned {
				return c.provisioned(nextURL)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// Errors reported after the acknowledgement no longer have a
			// pending request to land on.
			if ev.Kind == EventErrorChanged && ev.Error != ErrorNone && acked {
				return "", &DeviceError{Code: ev.Error, Command: OpSendWiFiSettings}
			}

		case <-grace:
			c.rpc.release(p)
			return c.provisioned(nextURL)

		case <-deadline.C:
			c.rpc.release(p)
			if provisioned {
				return c.provisioned(nextURL)
			}
			c.log.Warn("provisioning timed out", "state", c.State().String())
			return "", fmt.Errorf("%w: device did not report PROVISIONED within %s", ErrTimeout, timeout)

		case <-ctx.Done():
			c.rpc.release(p)
			return "", ctx.Err()

		case <-c.done:
			return "", fmt.Errorf("%w: while provisioning", ErrDisconnected)
		}
	}
}

func (c *Client) provisioned(nextURL string) (string, error) {
	c.log.Info("device provisioned", "next_url", nextURL)
	return nextURL, nil
}
