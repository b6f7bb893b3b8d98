package improv

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// requestSlot is either idleSlot or *pendingRequest.
type requestSlot interface {
	slot()
}

type idleSlot struct{}

func (idleSlot) slot() {}

// pendingRequest is the single outstanding RPC.
type pendingRequest struct {
	command  Opcode
	deadline time.Time

	// collect sees every matching result frame and reports whether the
	// request is complete. nil completes on the first result.
	collect func(fields []string) bool

	done chan rpcOutcome
}

func (*pendingRequest) slot() {}

type rpcOutcome struct {
	fields []string
	err    error
}

// dispatcher serializes RPCs over the shared stream. The wire protocol has no
// request identifier, so results are matched to the one pending request by
// opcode and arrival order.
type dispatcher struct {
	mu       sync.Mutex
	slot     requestSlot
	w        io.Writer
	writeMu  sync.Mutex
	terminal error
	log      Logger
}

func newDispatcher(w io.Writer, log Logger) *dispatcher {
	return &dispatcher{slot: idleSlot{}, w: w, log: log}
}

// send issues cmd and waits for its outcome.
func (d *dispatcher) send(ctx context.Context, cmd Command, timeout time.Duration, collect func([]string) bool) ([]string, error) {
	p, err := d.start(cmd, timeout, collect)
	if err != nil {
		return nil, err
	}
	return d.wait(ctx, p)
}

// start installs cmd as the pending request and writes it to the transport.
// Fails with ErrBusy, without writing, if a request is already pending.
func (d *dispatcher) start(cmd Command, timeout time.Duration, collect func([]string) bool) (*pendingRequest, error) {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.terminal != nil {
		err := d.terminal
		d.mu.Unlock()
		return nil, err
	}
	if _, busy := d.slot.(*pendingRequest); busy {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot send %s", ErrBusy, cmd.Opcode)
	}
	p := &pendingRequest{
		command:  cmd.Opcode,
		deadline: time.Now().Add(timeout),
		collect:  collect,
		done:     make(chan rpcOutcome, 1),
	}
	d.slot = p
	d.mu.Unlock()

	d.log.Debug("sending rpc", "command", cmd.Opcode.String(), "bytes", len(frame))

	d.writeMu.Lock()
	_, err = d.w.Write(frame)
	d.writeMu.Unlock()
	if err != nil {
		d.release(p)
		return nil, fmt.Errorf("%w: write %s: %v", ErrDisconnected, cmd.Opcode, err)
	}

	return p, nil
}

// wait blocks until p resolves, its deadline passes, or ctx is done.
func (d *dispatcher) wait(ctx context.Context, p *pendingRequest) ([]string, error) {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case out := <-p.done:
		return out.fields, out.err
	case <-timer.C:
		if d.release(p) {
			d.log.Debug("rpc timed out", "command", p.command.String())
			return nil, fmt.Errorf("%w: %s", ErrTimeout, p.command)
		}
	case <-ctx.Done():
		if d.release(p) {
			return nil, ctx.Err()
		}
	}

	// Resolved concurrently with the deadline; the outcome is already queued.
	out := <-p.done
	return out.fields, out.err
}

// release clears p if it is still pending. Returns false if p was already
// resolved.
func (d *dispatcher) release(p *pendingRequest) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slot != requestSlot(p) {
		return false
	}
	d.slot = idleSlot{}
	return true
}

// busy reports whether a request is outstanding.
func (d *dispatcher) busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, pending := d.slot.(*pendingRequest)
	return pending
}

// handleResult routes an RPC result frame to the pending request.
func (d *dispatcher) handleResult(op Opcode, fields []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.slot.(*pendingRequest)
	if !ok {
		d.log.Debug("discarding rpc result with no pending request", "command", op.String())
		return
	}
	if p.command != op {
		d.log.Warn("discarding rpc result for another command", "pending", p.command.String(), "received", op.String())
		return
	}
	if p.collect != nil && !p.collect(fields) {
		return
	}
	d.resolveLocked(p, rpcOutcome{fields: fields})
}

// handleMalformed fails the pending request after an RPC result that could
// not be decoded.
func (d *dispatcher) handleMalformed(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.slot.(*pendingRequest); ok {
		d.resolveLocked(p, rpcOutcome{err: fmt.Errorf("%s: %w", p.command, err)})
	}
}

// handleDeviceError fails the pending request with the reported code.
func (d *dispatcher) handleDeviceError(code ErrorState) {
	if code == ErrorNone {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.slot.(*pendingRequest); ok {
		d.resolveLocked(p, rpcOutcome{err: &DeviceError{Code: code, Command: p.command}})
	}
}

// fail makes err the permanent answer for every present and future request.
func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminal == nil {
		d.terminal = err
	}
	if p, ok := d.slot.(*pendingRequest); ok {
		d.resolveLocked(p, rpcOutcome{err: err})
	}
}

func (d *dispatcher) resolveLocked(p *pendingRequest, out rpcOutcome) {
	d.slot = idleSlot{}
	p.done <- out
}
