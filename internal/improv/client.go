package improv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the duplex byte stream to the device. Read returning an error
// means the stream terminated. The client closes the transport on Close.
type Transport interface {
	io.ReadWriteCloser
}

// DeviceInfo describes the device, as reported by the identify RPC.
type DeviceInfo struct {
	Firmware   string `json:"firmware" yaml:"firmware"`
	Version    string `json:"version" yaml:"version"`
	ChipFamily string `json:"chip_family" yaml:"chip_family"`
	Name       string `json:"name" yaml:"name"`
	OSName     string `json:"os_name,omitempty" yaml:"os_name,omitempty"`
	OSVersion  string `json:"os_version,omitempty" yaml:"os_version,omitempty"`
}

// parseDeviceInfo builds DeviceInfo from identify result fields:
// firmware, version, chip family, device name, then optional OS name and
// OS version.
func parseDeviceInfo(fields []string) (DeviceInfo, error) {
	if len(fields) < 4 {
		return DeviceInfo{}, fmt.Errorf("%w: identify returned %d fields (need 4)", ErrProtocolViolation, len(fields))
	}
	info := DeviceInfo{
		Firmware:   fields[0],
		Version:    fields[1],
		ChipFamily: fields[2],
		Name:       fields[3],
	}
	if len(fields) > 4 {
		info.OSName = fields[4]
	}
	if len(fields) > 5 {
		info.OSVersion = fields[5]
	}
	return info, nil
}

// Client speaks Improv over one transport.
type Client struct {
	transport Transport
	config    Config
	log       Logger

	decoder *Decoder
	sm      *stateMachine
	rpc     *dispatcher

	mu      sync.Mutex
	info    *DeviceInfo
	nextURL string
	reports map[chan DeviceState]struct{}

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewClient creates a client and starts draining the transport.
// Call Initialize before issuing other commands.
func NewClient(t Transport, opts ...Option) *Client {
	if t == nil {
		panic("improv: transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		transport: t,
		config:    cfg,
		log:       cfg.Logger,
		decoder:   NewDecoder(),
		sm:        newStateMachine(cfg.Logger),
		reports:   make(map[chan DeviceState]struct{}),
		done:      make(chan struct{}),
	}
	c.rpc = newDispatcher(t, cfg.Logger)

	c.decoder.OnDrop = func(err *FramingError) {
		c.log.Debug("framing error", "error", err.Error())
	}
	c.decoder.OnLine = func(line string) {
		c.log.Debug("device output", "line", line)
		if cfg.LineHandler != nil {
			cfg.LineHandler(line)
		}
	}

	go c.readLoop()
	return c
}

// Initialize performs the identify handshake and asks for the current state.
// On success the client is READY (or whatever state the device reported).
// Any failure moves the session to ERROR.
func (c *Client) Initialize(ctx context.Context) (DeviceInfo, error) {
	c.log.Info("initializing improv serial")

	fields, err := c.rpc.send(ctx, IdentifyCommand(), c.config.IdentifyTimeout, nil)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("improv serial not detected: %w", err)
		}
		return DeviceInfo{}, c.failSession(err)
	}

	info, err := parseDeviceInfo(fields)
	if err != nil {
		return DeviceInfo{}, c.failSession(err)
	}

	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()

	c.log.Info("device identified",
		"name", info.Name,
		"firmware", info.Firmware,
		"version", info.Version,
		"chip", info.ChipFamily,
	)

	if _, err := c.RequestState(ctx); err != nil {
		if errors.Is(err, ErrDisconnected) || errors.Is(err, context.Canceled) {
			return info, err
		}
		c.log.Warn("device did not report its state", "error", err.Error())
	}

	if c.sm.current() == StateConnecting {
		c.sm.transition(StateReady)
	}
	return info, nil
}

// RequestState asks the device to report its state and waits for the report.
// A PROVISIONED device also answers with its redirect URL, which is recorded
// and available through NextURL.
func (c *Client) RequestState(ctx context.Context) (DeviceState, error) {
	reports, unsubscribe := c.watchReports()
	defer unsubscribe()

	p, err := c.rpc.start(StateCommand(), c.config.StateTimeout, nil)
	if err != nil {
		return c.State(), err
	}

	timer := time.NewTimer(c.config.StateTimeout)
	defer timer.Stop()

	var (
		reported bool
		state    DeviceState
		answered bool
	)
	for {
		select {
		case state = <-reports:
			reported = true
			if state != StateProvisioned {
				c.rpc.release(p)
				return state, nil
			}
			if answered {
				return state, nil
			}
		case out := <-p.done:
			if out.err != nil {
				return c.State(), out.err
			}
			answered = true
			c.setNextURL(out.fields)
			if reported {
				return state, nil
			}
		case <-timer.C:
			c.rpc.release(p)
			if reported {
				// Provisioned, but the device never sent its URL.
				return state, nil
			}
			return c.State(), fmt.Errorf("%w: no state report", ErrTimeout)
		case <-ctx.Done():
			c.rpc.release(p)
			return c.State(), ctx.Err()
		}
	}
}

// Info returns the identified device, or false before Initialize succeeds.
func (c *Client) Info() (DeviceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return DeviceInfo{}, false
	}
	return *c.info, true
}

// State returns the current device state.
func (c *Client) State() DeviceState {
	return c.sm.current()
}

// Error returns the last error code reported by the device and whether one
// has been reported at all.
func (c *Client) Error() (ErrorState, bool) {
	return c.sm.lastError()
}

// NextURL returns the redirect URL the device offered after provisioning.
func (c *Client) NextURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextURL
}

// Busy reports whether a command is outstanding.
func (c *Client) Busy() bool {
	return c.rpc.busy()
}

// Subscribe returns a channel of state, error and disconnect events and a
// function that ends the subscription. The channel is closed when the client
// closes. Events are dropped if the channel is full, except the disconnect
// event, which replaces the oldest queued one.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	return c.sm.subscribe(buffer)
}

// Done is closed once the transport has terminated or the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close releases the transport. Any outstanding command fails with
// ErrDisconnected. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.rpc.fail(fmt.Errorf("%w: client closed", ErrDisconnected))
		c.closeErr = c.transport.Close()
		<-c.done
	})
	return c.closeErr
}

func (c *Client) readLoop() {
	buf := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			for _, frame := range c.decoder.Feed(buf[:n]) {
				c.handleFrame(frame)
			}
		}
		if err != nil {
			c.terminate(err)
			return
		}
	}
}

func (c *Client) handleFrame(f Frame) {
	switch f.Type {
	case PacketCurrentState:
		if len(f.Payload) < 1 {
			c.log.Warn("empty state report")
			return
		}
		state := DeviceState(f.Payload[0])
		if !state.IsReported() {
			c.log.Warn("ignoring invalid state report", "state", state.String())
			return
		}
		c.sm.transition(state)
		c.notifyReport(state)

	case PacketErrorState:
		if len(f.Payload) < 1 {
			c.log.Warn("empty error report")
			return
		}
		code := ErrorState(f.Payload[0])
		c.sm.reportError(code)
		c.rpc.handleDeviceError(code)

	case PacketRPCResult:
		op, fields, err := DecodeRPCPayload(f.Payload)
		if err != nil {
			c.log.Warn("malformed rpc result", "error", err.Error())
			c.rpc.handleMalformed(err)
			return
		}
		c.rpc.handleResult(op, fields)

	default:
		c.log.Debug("ignoring frame", "type", f.Type.String(), "length", len(f.Payload))
	}
}

// terminate runs once when the read loop exits.
func (c *Client) terminate(cause error) {
	if c.closing.Load() {
		c.log.Debug("transport closed")
	} else {
		c.log.Warn("transport terminated", "error", cause.Error())
	}

	c.rpc.fail(fmt.Errorf("%w: %v", ErrDisconnected, cause))
	c.sm.transition(StateDisconnected)
	if !c.closing.Load() {
		c.sm.disconnected(cause)
	}
	c.sm.close()
	close(c.done)
}

// failSession moves the session to ERROR and returns err.
func (c *Client) failSession(err error) error {
	if errors.Is(err, ErrDisconnected) {
		return err
	}
	c.rpc.fail(fmt.Errorf("%w: %v", ErrSessionFailed, err))
	c.sm.transition(StateError)
	return err
}

func (c *Client) setNextURL(fields []string) {
	if len(fields) == 0 {
		return
	}
	c.mu.Lock()
	c.nextURL = fields[0]
	c.mu.Unlock()
}

// watchReports registers for every state report, including repeats of the
// current state, which the state-changed event does not carry.
func (c *Client) watchReports() (<-chan DeviceState, func()) {
	ch := make(chan DeviceState, 4)
	c.mu.Lock()
	c.reports[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.reports, ch)
		c.mu.Unlock()
	}
}

func (c *Client) notifyReport(state DeviceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.reports {
		select {
		case ch <- state:
		default:
		}
	}
}
