// Package discovery finds provisioned devices on the local network with mDNS.
//
// After a device accepts Wi-Fi credentials it joins the network and starts
// advertising itself. ESPHome firmware registers "_esphomelib._tcp" under its
// node name and, with the web server enabled, "_http._tcp". Looking for the
// device name from the identify RPC confirms it actually came online.
//
// # Usage Example
//
//	device, err := discovery.FindDevice(ctx, info.Name, 15*time.Second)
//	if err != nil {
//	    return err
//	}
//	fmt.Println("online at", device.BaseURL())
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - The device must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
