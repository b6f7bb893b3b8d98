package improv_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/improv/improvtest"
)

// Timeouts are scaled down so failure paths finish quickly.
var fastOptions = []improv.Option{
	improv.WithIdentifyTimeout(200 * time.Millisecond),
	improv.WithStateTimeout(200 * time.Millisecond),
	improv.WithScanTimeout(300 * time.Millisecond),
	improv.WithProvisionTimeout(time.Second),
	improv.WithResultGrace(30 * time.Millisecond),
}

func newClient(t *testing.T, d *improvtest.Device, opts ...improv.Option) *improv.Client {
	t.Helper()
	c := improv.NewClient(improvtest.Pipe(d), append(append([]improv.Option(nil), fastOptions...), opts...)...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func initialized(t *testing.T, d *improvtest.Device, opts ...improv.Option) *improv.Client {
	t.Helper()
	c := newClient(t, d, opts...)
	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type result[T any] struct {
	value T
	err   error
}

func TestInitialize(t *testing.T) {
	d := improvtest.NewDevice()
	c := newClient(t, d)

	info, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	want := improv.DeviceInfo{
		Firmware:   "ESPHome",
		Version:    "2024.6.0",
		ChipFamily: "ESP32-C3",
		Name:       "living-room-sensor",
	}
	if info != want {
		t.Errorf("Initialize() = %+v, want %+v", info, want)
	}
	if got, ok := c.Info(); !ok || got != want {
		t.Errorf("Info() = %+v, %v", got, ok)
	}
	if c.State() != improv.StateReady {
		t.Errorf("State() = %s, want READY", c.State())
	}

	var ops []improv.Opcode
	for _, cmd := range d.Commands() {
		ops = append(ops, cmd.Opcode)
	}
	wantOps := []improv.Opcode{improv.OpRequestInfo, improv.OpRequestCurrentState}
	if !reflect.DeepEqual(ops, wantOps) {
		t.Errorf("device received %v, want %v", ops, wantOps)
	}
}

func TestInitialize_OptionalFields(t *testing.T) {
	d := improvtest.NewDevice()
	d.Info = append(d.Info, "ESP-IDF", "5.1")
	c := newClient(t, d)

	info, err := c.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if info.OSName != "ESP-IDF" || info.OSVersion != "5.1" {
		t.Errorf("OS = %q %q, want ESP-IDF 5.1", info.OSName, info.OSVersion)
	}
}

func TestInitialize_AlreadyProvisioned(t *testing.T) {
	d := improvtest.NewDevice()
	d.State = improv.StateProvisioned
	d.RedirectURL = "http://living-room-sensor.local"
	c := newClient(t, d)

	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if c.State() != improv.StateProvisioned {
		t.Errorf("State() = %s, want PROVISIONED", c.State())
	}
	if c.NextURL() != d.RedirectURL {
		t.Errorf("NextURL() = %q, want %q", c.NextURL(), d.RedirectURL)
	}
}

func TestInitialize_NotDetected(t *testing.T) {
	d := improvtest.NewDevice()
	d.Silent = true
	c := newClient(t, d)

	_, err := c.Initialize(context.Background())
	if !errors.Is(err, improv.ErrTimeout) {
		t.Fatalf("Initialize() error = %v, want ErrTimeout", err)
	}
	if c.State() != improv.StateError {
		t.Errorf("State() = %s, want ERROR", c.State())
	}

	if _, err := c.Scan(context.Background()); !errors.Is(err, improv.ErrSessionFailed) {
		t.Errorf("Scan() after failed session error = %v, want ErrSessionFailed", err)
	}
	if got := d.CommandCount(improv.OpRequestScan); got != 0 {
		t.Errorf("device received %d scans, want 0", got)
	}
}

func TestInitialize_MalformedIdentify(t *testing.T) {
	d := improvtest.NewDevice()
	d.Info = []string{"ESPHome"}
	c := newClient(t, d)

	_, err := c.Initialize(context.Background())
	if !errors.Is(err, improv.ErrProtocolViolation) {
		t.Fatalf("Initialize() error = %v, want ErrProtocolViolation", err)
	}
	if c.State() != improv.StateError {
		t.Errorf("State() = %s, want ERROR", c.State())
	}
	if _, ok := c.Info(); ok {
		t.Error("Info() ok after malformed identify")
	}

	if _, err := c.RequestState(context.Background()); !errors.Is(err, improv.ErrSessionFailed) {
		t.Errorf("RequestState() after failed session error = %v, want ErrSessionFailed", err)
	}
	if _, err := c.Provision(context.Background(), "HomeNet", "pw", 0); !errors.Is(err, improv.ErrSessionFailed) {
		t.Errorf("Provision() after failed session error = %v, want ErrSessionFailed", err)
	}
	if got := d.CommandCount(improv.OpSendWiFiSettings); got != 0 {
		t.Errorf("device received %d provision commands, want 0", got)
	}
}

func TestInvalidStateReportIgnored(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)
	events, _ := c.Subscribe(8)

	invalid := []improv.DeviceState{
		improv.StateConnecting,
		improv.StateDisconnected,
		improv.StateError,
		improv.DeviceState(0x05),
	}
	for _, state := range invalid {
		if err := d.SendFrame(improv.PacketCurrentState, []byte{byte(state)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.SendState(improv.StateProvisioning); err != nil {
		t.Fatal(err)
	}
	eventually(t, "PROVISIONING", func() bool { return c.State() == improv.StateProvisioning })

	ev := <-events
	if ev.Kind != improv.EventStateChanged || ev.Previous != improv.StateReady || ev.State != improv.StateProvisioning {
		t.Errorf("first event = %+v, want READY -> PROVISIONING", ev)
	}
	select {
	case <-c.Done():
		t.Fatal("Done() closed by a state report")
	default:
	}

	state, err := c.RequestState(context.Background())
	if err != nil {
		t.Fatalf("RequestState() error = %v", err)
	}
	if state != improv.StateProvisioning {
		t.Errorf("RequestState() = %s, want PROVISIONING", state)
	}
}

func TestInitialize_ConsoleOutput(t *testing.T) {
	lines := make(chan string, 4)
	d := improvtest.NewDevice()
	d.Console = "[I][app:100]: Running through setup()\r\n"
	c := newClient(t, d, improv.WithLineHandler(func(line string) { lines <- line }))

	if _, err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	select {
	case line := <-lines:
		if line != "[I][app:100]: Running through setup()" {
			t.Errorf("line = %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("console line not delivered")
	}
}

func TestBusyAndLateResult(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)
	d.SetSilent(true)

	scanned := make(chan result[[]improv.Ssid], 1)
	go func() {
		networks, err := c.Scan(context.Background())
		scanned <- result[[]improv.Ssid]{networks, err}
	}()
	eventually(t, "scan to be pending", c.Busy)

	if _, err := c.RequestState(context.Background()); !errors.Is(err, improv.ErrBusy) {
		t.Errorf("RequestState() while scanning error = %v, want ErrBusy", err)
	}
	if _, err := c.Provision(context.Background(), "HomeNet", "pw", 0); !errors.Is(err, improv.ErrBusy) {
		t.Errorf("Provision() while scanning error = %v, want ErrBusy", err)
	}
	if got := d.CommandCount(improv.OpRequestCurrentState); got != 1 {
		t.Errorf("device received %d state requests, want 1 (from Initialize)", got)
	}

	out := <-scanned
	if !errors.Is(out.err, improv.ErrTimeout) {
		t.Fatalf("Scan() error = %v, want ErrTimeout", out.err)
	}
	if !improv.IsRetryable(out.err) {
		t.Error("IsRetryable(timeout) = false")
	}
	if c.Busy() {
		t.Error("Busy() after timeout = true")
	}

	// The answer to the abandoned scan must not complete anything.
	if err := d.SendResult(improv.OpRequestScan, "Late", "-40", "YES"); err != nil {
		t.Fatal(err)
	}

	d.SetSilent(false)
	state, err := c.RequestState(context.Background())
	if err != nil {
		t.Fatalf("RequestState() error = %v", err)
	}
	if state != improv.StateReady {
		t.Errorf("RequestState() = %s, want READY", state)
	}
}

func TestScan(t *testing.T) {
	d := improvtest.NewDevice()
	d.Networks = [][]improv.Ssid{
		{
			{Name: "HomeNet", RSSI: -42, Secured: true},
			{Name: "Cafe", RSSI: -71, Secured: false},
		},
		{
			{Name: "HomeNet", RSSI: -80, Secured: true},
			{Name: "Garage", RSSI: -58, Secured: true},
		},
	}
	c := initialized(t, d)

	networks, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []improv.Ssid{
		{Name: "HomeNet", RSSI: -42, Secured: true},
		{Name: "Cafe", RSSI: -71, Secured: false},
		{Name: "Garage", RSSI: -58, Secured: true},
	}
	if !reflect.DeepEqual(networks, want) {
		t.Errorf("Scan() = %+v, want %+v", networks, want)
	}
}

func TestScan_Empty(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)

	networks, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(networks) != 0 {
		t.Errorf("Scan() = %+v, want none", networks)
	}
}

func TestScan_Unsupported(t *testing.T) {
	d := improvtest.NewDevice()
	d.ScanUnsupported = true
	c := initialized(t, d)

	_, err := c.Scan(context.Background())
	if !errors.Is(err, improv.ErrScanUnsupported) {
		t.Fatalf("Scan() error = %v, want ErrScanUnsupported", err)
	}
	if !improv.IsDeviceError(err, improv.ErrorUnknownCommand) {
		t.Errorf("Scan() error = %v, want UNKNOWN_RPC_COMMAND device error", err)
	}
	if code, ok := c.Error(); !ok || code != improv.ErrorUnknownCommand {
		t.Errorf("Error() = %s, %v", code, ok)
	}

	// The session stays usable for manual entry.
	if _, err := c.RequestState(context.Background()); err != nil {
		t.Errorf("RequestState() after unsupported scan error = %v", err)
	}
}

func TestScan_ContextCanceled(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)
	d.SetSilent(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Scan(ctx)
		done <- err
	}()
	eventually(t, "scan to be pending", c.Busy)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Scan() error = %v, want context.Canceled", err)
	}
	if c.Busy() {
		t.Error("Busy() after cancel = true")
	}
}

func TestProvision(t *testing.T) {
	tests := []struct {
		name     string
		ackFirst bool
		delay    time.Duration
		url      string
	}{
		{"ack after provisioned", false, 0, "http://living-room-sensor.local"},
		{"ack before provisioned", true, 40 * time.Millisecond, "http://living-room-sensor.local"},
		{"no redirect url", false, 10 * time.Millisecond, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := improvtest.NewDevice()
			d.AckFirst = tt.ackFirst
			d.ProvisionDelay = tt.delay
			d.RedirectURL = tt.url
			c := initialized(t, d)

			events, unsubscribe := c.Subscribe(16)
			defer unsubscribe()

			url, err := c.Provision(context.Background(), "HomeNet", "secret123", 0)
			if err != nil {
				t.Fatalf("Provision() error = %v", err)
			}
			if url != tt.url {
				t.Errorf("Provision() = %q, want %q", url, tt.url)
			}
			if c.NextURL() != tt.url {
				t.Errorf("NextURL() = %q, want %q", c.NextURL(), tt.url)
			}
			if c.State() != improv.StateProvisioned {
				t.Errorf("State() = %s, want PROVISIONED", c.State())
			}

			ssid, password := d.Credentials()
			if ssid != "HomeNet" || password != "secret123" {
				t.Errorf("device received %q/%q", ssid, password)
			}

			var states []improv.DeviceState
			for len(events) > 0 {
				if ev := <-events; ev.Kind == improv.EventStateChanged {
					states = append(states, ev.State)
				}
			}
			want := []improv.DeviceState{improv.StateProvisioning, improv.StateProvisioned}
			if !reflect.DeepEqual(states, want) {
				t.Errorf("state events = %v, want %v", states, want)
			}
		})
	}
}

func TestProvision_ProvisionedWithoutAck(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)
	d.SetSilent(true)

	done := make(chan result[string], 1)
	go func() {
		url, err := c.Provision(context.Background(), "HomeNet", "pw", time.Second)
		done <- result[string]{url, err}
	}()
	eventually(t, "provision to be pending", c.Busy)

	start := time.Now()
	if err := d.SendState(improv.StateProvisioned); err != nil {
		t.Fatal(err)
	}

	out := <-done
	if out.err != nil || out.value != "" {
		t.Fatalf("Provision() = %q, %v; want empty url and no error", out.value, out.err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Provision() took %s after PROVISIONED, want about the result grace", elapsed)
	}
	if c.Busy() {
		t.Error("Busy() after provisioning = true")
	}
}

func TestProvision_UnableToConnect(t *testing.T) {
	for _, ackFirst := range []bool{false, true} {
		d := improvtest.NewDevice()
		d.FailProvision = true
		d.AckFirst = ackFirst
		d.ProvisionDelay = 20 * time.Millisecond
		c := initialized(t, d)

		_, err := c.Provision(context.Background(), "HomeNet", "wrong", 0)
		if !improv.IsDeviceError(err, improv.ErrorUnableToConnect) {
			t.Fatalf("ackFirst=%v: Provision() error = %v, want UNABLE_TO_CONNECT", ackFirst, err)
		}
		if !improv.IsRetryable(err) {
			t.Errorf("ackFirst=%v: IsRetryable() = false", ackFirst)
		}
		if code, ok := improv.DeviceErrorCode(err); !ok || code != improv.ErrorUnableToConnect {
			t.Errorf("ackFirst=%v: DeviceErrorCode() = %s, %v", ackFirst, code, ok)
		}
		if c.NextURL() != "" {
			t.Errorf("ackFirst=%v: NextURL() = %q, want empty", ackFirst, c.NextURL())
		}
	}
}

func TestProvision_Timeout(t *testing.T) {
	d := improvtest.NewDevice()
	d.NeverProvision = true
	c := initialized(t, d)

	_, err := c.Provision(context.Background(), "HomeNet", "pw", 80*time.Millisecond)
	if !errors.Is(err, improv.ErrTimeout) {
		t.Fatalf("Provision() error = %v, want ErrTimeout", err)
	}
	if c.State() != improv.StateProvisioning {
		t.Errorf("State() = %s, want PROVISIONING", c.State())
	}
	if c.Busy() {
		t.Error("Busy() after timeout = true")
	}
}

func TestProvision_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		ssid     string
		password string
	}{
		{"empty ssid", "", "pw"},
		{"oversized credentials", "HomeNet", string(make([]byte, 250))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := improvtest.NewDevice()
			c := initialized(t, d)

			_, err := c.Provision(context.Background(), tt.ssid, tt.password, 0)
			if !errors.Is(err, improv.ErrInvalidInput) {
				t.Errorf("Provision() error = %v, want ErrInvalidInput", err)
			}
			if got := d.CommandCount(improv.OpSendWiFiSettings); got != 0 {
				t.Errorf("device received %d provision commands, want 0", got)
			}
		})
	}
}

func TestDisconnectDuringScan(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)
	events, _ := c.Subscribe(8)
	d.SetSilent(true)

	done := make(chan error, 1)
	go func() {
		_, err := c.Scan(context.Background())
		done <- err
	}()
	eventually(t, "scan to be pending", c.Busy)

	if err := d.Disconnect(); err != nil {
		t.Fatal(err)
	}

	if err := <-done; !errors.Is(err, improv.ErrDisconnected) {
		t.Fatalf("Scan() error = %v, want ErrDisconnected", err)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after disconnect")
	}
	if c.State() != improv.StateDisconnected {
		t.Errorf("State() = %s, want DISCONNECTED", c.State())
	}
	if _, err := c.RequestState(context.Background()); !errors.Is(err, improv.ErrDisconnected) {
		t.Errorf("RequestState() after disconnect error = %v, want ErrDisconnected", err)
	}

	var kinds []improv.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []improv.EventKind{improv.EventStateChanged, improv.EventDisconnected}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestClose(t *testing.T) {
	d := improvtest.NewDevice()
	c := initialized(t, d)
	events, _ := c.Subscribe(8)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := c.Scan(context.Background()); !errors.Is(err, improv.ErrDisconnected) {
		t.Errorf("Scan() after Close error = %v, want ErrDisconnected", err)
	}
	for ev := range events {
		if ev.Kind == improv.EventDisconnected {
			t.Error("Close() published a disconnect event")
		}
	}
}

func TestSsidSignalBars(t *testing.T) {
	tests := []struct {
		rssi int
		want int
	}{
		{-30, 4},
		{-50, 4},
		{-55, 3},
		{-65, 2},
		{-70, 2},
		{-90, 1},
	}
	for _, tt := range tests {
		if got := (improv.Ssid{RSSI: tt.rssi}).SignalBars(); got != tt.want {
			t.Errorf("SignalBars(%d) = %d, want %d", tt.rssi, got, tt.want)
		}
	}
}
