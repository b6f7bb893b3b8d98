package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/muurk/improvctl/internal/config"
	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/improv/improvtest"
	"github.com/muurk/improvctl/internal/logging"
	"github.com/muurk/improvctl/internal/transport"
)

func TestResolve(t *testing.T) {
	flagValues := app{
		port:             "/dev/ttyACM0",
		baud:             transport.DefaultBaudRate,
		logLevel:         "debug",
		identifyTimeout:  improv.DefaultIdentifyTimeout,
		scanTimeout:      improv.DefaultScanTimeout,
		provisionTimeout: 5 * time.Second,
	}
	prefs := &config.Preferences{
		Port:             "ws://pi.local:8765/serial",
		BaudRate:         9600,
		ProvisionTimeout: 90 * time.Second,
		LogLevel:         "warn",
		VerifyMDNS:       true,
	}

	tests := []struct {
		name    string
		prefs   *config.Preferences
		changed []string
		env     string
		check   func(t *testing.T, s settings)
	}{
		{
			name:  "preferences over defaults",
			prefs: prefs,
			check: func(t *testing.T, s settings) {
				if s.Port != prefs.Port || s.BaudRate != 9600 || s.ProvisionTimeout != 90*time.Second {
					t.Errorf("settings = %+v", s)
				}
				if s.IdentifyTimeout != improv.DefaultIdentifyTimeout {
					t.Errorf("IdentifyTimeout = %v, want default", s.IdentifyTimeout)
				}
				if s.LogLevel != "warn" || !s.VerifyMDNS {
					t.Errorf("settings = %+v", s)
				}
				if s.BridgeAddr != config.DefaultBridgeAddr {
					t.Errorf("BridgeAddr = %q", s.BridgeAddr)
				}
			},
		},
		{
			name:    "changed flags over preferences",
			prefs:   prefs,
			changed: []string{"port", "provision-timeout", "log-level"},
			check: func(t *testing.T, s settings) {
				if s.Port != "/dev/ttyACM0" || s.ProvisionTimeout != 5*time.Second || s.LogLevel != "debug" {
					t.Errorf("settings = %+v", s)
				}
				if s.BaudRate != 9600 {
					t.Errorf("BaudRate = %d, want preference", s.BaudRate)
				}
			},
		},
		{
			name:  "environment over log level preference",
			prefs: prefs,
			env:   "error",
			check: func(t *testing.T, s settings) {
				if s.LogLevel != "error" {
					t.Errorf("LogLevel = %q, want error", s.LogLevel)
				}
			},
		},
		{
			name:    "flag over environment",
			prefs:   prefs,
			changed: []string{"log-level"},
			env:     "error",
			check: func(t *testing.T, s settings) {
				if s.LogLevel != "debug" {
					t.Errorf("LogLevel = %q, want debug", s.LogLevel)
				}
			},
		},
		{
			name: "no preferences",
			check: func(t *testing.T, s settings) {
				if s.Port != "" || s.BaudRate != transport.DefaultBaudRate || s.ScanTimeout != improv.DefaultScanTimeout {
					t.Errorf("settings = %+v", s)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := func(name string) bool {
				for _, c := range tt.changed {
					if c == name {
						return true
					}
				}
				return false
			}
			getenv := func(key string) string {
				if key == logging.LogLevelEnvVar {
					return tt.env
				}
				return ""
			}
			a := flagValues
			tt.check(t, a.resolve(tt.prefs, changed, getenv))
		})
	}
}

func TestPickPort(t *testing.T) {
	tests := []struct {
		ports   []string
		want    string
		wantErr error
	}{
		{ports: nil, wantErr: errNoPorts},
		{ports: []string{"/dev/ttyUSB0"}, want: "/dev/ttyUSB0"},
		{ports: []string{"/dev/ttyACM0", "/dev/ttyUSB0"}, wantErr: errAmbiguousPorts},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(len(tt.ports)), func(t *testing.T) {
			got, err := pickPort(tt.ports)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("pickPort() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("pickPort() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsBridgeURL(t *testing.T) {
	tests := map[string]bool{
		"ws://pi.local:8765/serial":   true,
		"WSS://bridge.example/serial": true,
		"/dev/ttyUSB0":                false,
		"COM3":                        false,
		"http://pi.local:8765":        false,
	}
	for port, want := range tests {
		if got := isBridgeURL(port); got != want {
			t.Errorf("isBridgeURL(%q) = %v, want %v", port, got, want)
		}
	}
}

func TestTroubleshooting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrong password", &improv.DeviceError{Code: improv.ErrorUnableToConnect, Command: improv.OpSendWiFiSettings}, "password"},
		{"not authorized", &improv.DeviceError{Code: improv.ErrorNotAuthorized}, "button"},
		{"busy port", fmt.Errorf("open /dev/ttyUSB0: %w", transport.ErrPortBusy), "Close other programs"},
		{"permissions", transport.ErrPermissionDenied, "dialout"},
		{"no improv", fmt.Errorf("improv serial not detected: %w", improv.ErrTimeout), "Improv serial enabled"},
		{"unplugged", improv.ErrDisconnected, "unplugged"},
		{"no scan", improv.ErrScanUnsupported, "--ssid"},
		{"several ports", fmt.Errorf("%w (a, b)", errAmbiguousPorts), "--port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := strings.Join(troubleshooting(tt.err), "\n")
			if !strings.Contains(tips, tt.want) {
				t.Errorf("troubleshooting() = %q, want it to mention %q", tips, tt.want)
			}
		})
	}

	if tips := troubleshooting(errors.New("something else")); tips != nil {
		t.Errorf("troubleshooting(unknown) = %v, want nil", tips)
	}
}

func TestSetPreference(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(p *config.Preferences) bool
	}{
		{key: "port", value: "/dev/ttyUSB1", check: func(p *config.Preferences) bool { return p.Port == "/dev/ttyUSB1" }},
		{key: "baud_rate", value: "921600", check: func(p *config.Preferences) bool { return p.BaudRate == 921600 }},
		{key: "baud_rate", value: "fast", wantErr: true},
		{key: "baud_rate", value: "-1", wantErr: true},
		{key: "baud_rate", value: "", check: func(p *config.Preferences) bool { return p.BaudRate == 0 }},
		{key: "provision_timeout", value: "90s", check: func(p *config.Preferences) bool { return p.ProvisionTimeout == 90*time.Second }},
		{key: "scan_timeout", value: "soon", wantErr: true},
		{key: "identify_timeout", value: "-2s", wantErr: true},
		{key: "log_level", value: "DEBUG", check: func(p *config.Preferences) bool { return p.LogLevel == "debug" }},
		{key: "log_level", value: "chatty", wantErr: true},
		{key: "verify_mdns", value: "true", check: func(p *config.Preferences) bool { return p.VerifyMDNS }},
		{key: "verify_mdns", value: "maybe", wantErr: true},
		{key: "bridge_addr", value: "127.0.0.1:9000", check: func(p *config.Preferences) bool { return p.BridgeAddr == "127.0.0.1:9000" }},
		{key: "password", value: "secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			prefs := &config.Preferences{BaudRate: 115200}
			err := setPreference(prefs, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setPreference() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(prefs) {
				t.Errorf("setPreference() left %+v", prefs)
			}
		})
	}
}

func TestBridgeURL(t *testing.T) {
	tests := []struct {
		listen, want string
	}{
		{":8765", "ws://workbench:8765/serial"},
		{"0.0.0.0:8765", "ws://workbench:8765/serial"},
		{"192.168.1.20:9000", "ws://192.168.1.20:9000/serial"},
		{"[::]:8765", "ws://workbench:8765/serial"},
	}
	for _, tt := range tests {
		if got := bridgeURL(tt.listen, "/serial", "workbench"); got != tt.want {
			t.Errorf("bridgeURL(%q) = %q, want %q", tt.listen, got, tt.want)
		}
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   improv.Event
		want string
	}{
		{
			ev:   improv.Event{Kind: improv.EventStateChanged, Previous: improv.StateReady, State: improv.StateProvisioning},
			want: "state    " + improv.StateReady.String() + " -> " + improv.StateProvisioning.String(),
		},
		{
			ev:   improv.Event{Kind: improv.EventErrorChanged, Error: improv.ErrorUnableToConnect},
			want: "error    UNABLE_TO_CONNECT (Unable to connect)",
		},
		{
			ev:   improv.Event{Kind: improv.EventDisconnected, Err: io.EOF},
			want: "closed   EOF",
		},
	}
	for _, tt := range tests {
		if got := formatEvent(tt.ev); got != tt.want {
			t.Errorf("formatEvent(%v) = %q, want %q", tt.ev.Kind, got, tt.want)
		}
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, [][]string{
		{"NAME", "ADDRESS"},
		{"living-room-sensor", "http://192.168.1.40"},
		{"desk", ""},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if lines[1] != "living-room-sensor  http://192.168.1.40" {
		t.Errorf("row = %q", lines[1])
	}
	if lines[2] != "desk" {
		t.Errorf("trailing padding not trimmed: %q", lines[2])
	}
}

// startDevice serves a scripted device through a bridge and returns the
// ws:// URL to pass as --port.
func startDevice(t *testing.T, d *improvtest.Device) string {
	t.Helper()
	b, err := transport.NewBridge(transport.BridgeConfig{
		Open: func() (io.ReadWriteCloser, error) { return improvtest.Pipe(d), nil },
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + transport.DefaultBridgePath
}

// execute runs improvctl with a private config file and returns stdout.
func execute(t *testing.T, configPath string, stdin string, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--config", configPath}, args...))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestInfoJSON(t *testing.T) {
	d := improvtest.NewDevice()
	url := startDevice(t, d)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, configPath, "", "--port", url, "info", "--json")
	if err != nil {
		t.Fatalf("info error = %v", err)
	}

	var report deviceReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if report.Device.Name != "living-room-sensor" || report.Device.ChipFamily != "ESP32-C3" {
		t.Errorf("device = %+v", report.Device)
	}
	if report.State != improv.StateReady.String() {
		t.Errorf("state = %q", report.State)
	}

	registry, err := config.LoadRegistryFrom(configPath)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	device := registry.GetDevice("living-room-sensor")
	if device == nil || device.LastPort != url || device.Firmware != "ESPHome" {
		t.Errorf("recorded device = %+v", device)
	}
}

func TestScanJSON(t *testing.T) {
	d := improvtest.NewDevice()
	d.Networks = [][]improv.Ssid{
		{{Name: "HomeNet", RSSI: -48, Secured: true}},
		{{Name: "Cafe", RSSI: -80, Secured: false}},
	}
	url := startDevice(t, d)

	out, err := execute(t, filepath.Join(t.TempDir(), "config.yaml"), "", "--port", url, "scan", "--json")
	if err != nil {
		t.Fatalf("scan error = %v", err)
	}

	var networks []improv.Ssid
	if err := json.Unmarshal([]byte(out), &networks); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(networks) != 2 || networks[0].Name != "HomeNet" || networks[1].Secured {
		t.Errorf("networks = %+v", networks)
	}
}

func TestProvision(t *testing.T) {
	d := improvtest.NewDevice()
	d.RedirectURL = "http://living-room-sensor.local"
	url := startDevice(t, d)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, configPath, "", "--port", url, "provision", "--ssid", "HomeNet", "--password", "hunter22")
	if err != nil {
		t.Fatalf("provision error = %v\n%s", err, out)
	}
	if ssid, password := d.Credentials(); ssid != "HomeNet" || password != "hunter22" {
		t.Errorf("device got %q/%q", ssid, password)
	}
	for _, want := range []string{"Provisioning complete", d.RedirectURL} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	registry, err := config.LoadRegistryFrom(configPath)
	if err != nil {
		t.Fatalf("LoadRegistryFrom() error = %v", err)
	}
	device := registry.GetDevice("living-room-sensor")
	if device == nil || device.LastSSID != "HomeNet" || device.NextURL != d.RedirectURL {
		t.Errorf("recorded device = %+v", device)
	}
}

func TestProvision_PasswordFromStdin(t *testing.T) {
	d := improvtest.NewDevice()
	url := startDevice(t, d)

	_, err := execute(t, filepath.Join(t.TempDir(), "config.yaml"), "s3cret pass\n",
		"--port", url, "provision", "--ssid", "HomeNet", "--password-stdin")
	if err != nil {
		t.Fatalf("provision error = %v", err)
	}
	if _, password := d.Credentials(); password != "s3cret pass" {
		t.Errorf("password = %q", password)
	}
}

func TestProvision_AlreadyProvisioned(t *testing.T) {
	tests := []struct {
		name      string
		stdin     string
		args      []string
		wantErr   bool
		wantCreds bool
	}{
		{name: "declined", stdin: "n\n", wantErr: true},
		{name: "confirmed", stdin: "y\n", wantCreds: true},
		{name: "yes flag", args: []string{"--yes"}, wantCreds: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := improvtest.NewDevice()
			d.State = improv.StateProvisioned
			url := startDevice(t, d)

			args := append([]string{"--port", url, "provision", "--ssid", "NewNet", "--password", "pw"}, tt.args...)
			_, err := execute(t, filepath.Join(t.TempDir(), "config.yaml"), tt.stdin, args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("provision error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errCancelled) {
				t.Errorf("error = %v, want errCancelled", err)
			}
			ssid, _ := d.Credentials()
			if (ssid == "NewNet") != tt.wantCreds {
				t.Errorf("device ssid = %q, wantCreds %v", ssid, tt.wantCreds)
			}
		})
	}
}

func TestProvision_UnableToConnect(t *testing.T) {
	d := improvtest.NewDevice()
	d.FailProvision = true
	url := startDevice(t, d)

	out, err := execute(t, filepath.Join(t.TempDir(), "config.yaml"), "",
		"--port", url, "provision", "--ssid", "HomeNet", "--password", "wrong")
	if !improv.IsDeviceError(err, improv.ErrorUnableToConnect) {
		t.Fatalf("provision error = %v, want UNABLE_TO_CONNECT", err)
	}
	if !strings.Contains(out, "Check the Wi-Fi password") {
		t.Errorf("output missing troubleshooting:\n%s", out)
	}
}

func TestInfo_NoImprov(t *testing.T) {
	d := improvtest.NewDevice()
	d.Silent = true
	url := startDevice(t, d)

	out, err := execute(t, filepath.Join(t.TempDir(), "config.yaml"), "",
		"--port", url, "--identify-timeout", "200ms", "info")
	if !errors.Is(err, improv.ErrTimeout) {
		t.Fatalf("info error = %v, want ErrTimeout", err)
	}
	if !strings.Contains(out, "Improv serial") {
		t.Errorf("output missing troubleshooting:\n%s", out)
	}
}

func TestConfigSetAndDevices(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := execute(t, configPath, "", "config", "set", "provision_timeout", "90s"); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if _, err := execute(t, configPath, "", "config", "set", "nonsense", "1"); err == nil {
		t.Error("config set accepted an unknown key")
	}

	out, err := execute(t, configPath, "", "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, "provision_timeout: 1m30s") {
		t.Errorf("config show = %q", out)
	}

	out, err = execute(t, configPath, "", "devices")
	if err != nil {
		t.Fatalf("devices error = %v", err)
	}
	if !strings.Contains(out, "No devices recorded") {
		t.Errorf("devices = %q", out)
	}

	if _, err := execute(t, configPath, "", "devices", "remove", "ghost"); err == nil {
		t.Error("removing an unknown device succeeded")
	}
}

func TestDevicesAfterInfo(t *testing.T) {
	url := startDevice(t, improvtest.NewDevice())
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := execute(t, configPath, "", "--port", url, "info"); err != nil {
		t.Fatalf("info error = %v", err)
	}

	out, err := execute(t, configPath, "", "devices", "list")
	if err != nil {
		t.Fatalf("devices list error = %v", err)
	}
	if !strings.Contains(out, "living-room-sensor") || !strings.Contains(out, "ESPHome 2024.6.0") {
		t.Errorf("devices list = %q", out)
	}

	out, err = execute(t, configPath, "", "devices", "remove", "living-room-sensor")
	if err != nil {
		t.Fatalf("devices remove error = %v", err)
	}
	if !strings.Contains(out, "Removed living-room-sensor") {
		t.Errorf("devices remove = %q", out)
	}
}
