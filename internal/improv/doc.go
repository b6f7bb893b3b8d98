// Package improv implements the client side of the Improv Wi-Fi serial
// provisioning protocol.
//
// Improv is a small command/response protocol spoken by headless embedded
// devices (ESPHome, WLED, Tasmota and friends) over a USB serial link. The
// client detects the protocol, asks the device for nearby networks, submits
// Wi-Fi credentials and waits for the device to report that it joined the
// network.
//
// # Wire Format
//
// Every packet has the same layout:
//
//	[0-5]   "IMPROV"   Preamble
//	[6]     0x01       Protocol version
//	[7]     type       Packet type (state, error, RPC, RPC result)
//	[8]     length     Payload length
//	[9..]   payload    Payload bytes
//	[N]     checksum   Sum of all preceding bytes, mod 256
//
// The encoder appends a newline after the checksum because device consoles
// are line oriented. The decoder accepts frames with or without it.
//
// RPC and RPC result payloads share one layout: an opcode byte, a data length
// byte, and a sequence of length-prefixed UTF-8 strings.
//
// # Usage Example
//
//	port, _ := transport.OpenSerial("/dev/ttyUSB0", 115200)
//	client := improv.NewClient(port, improv.WithLogger(logging.ImprovLogger()))
//	defer client.Close()
//
//	info, err := client.Initialize(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	networks, err := client.Scan(ctx)
//	if errors.Is(err, improv.ErrScanUnsupported) {
//	    // fall back to manual SSID entry
//	}
//
//	nextURL, err := client.Provision(ctx, "HomeNet", "secret123", 30*time.Second)
//
// # Concurrency
//
// A client owns one reader goroutine that drains the transport and is the
// only code path that applies wire events. Only one RPC may be outstanding at
// a time because the protocol has no request identifier; a second call while
// one is in flight fails immediately with ErrBusy. State and error changes are
// delivered to subscribers as Event values on buffered channels.
package improv
