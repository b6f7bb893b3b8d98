package improv

import "sync"

// EventKind identifies a client notification.
type EventKind int

const (
	// EventStateChanged fires on every DeviceState transition.
	EventStateChanged EventKind = iota
	// EventErrorChanged fires on every error report from the device, even
	// when the code repeats.
	EventErrorChanged
	// EventDisconnected fires once when the transport terminates unexpectedly.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventErrorChanged:
		return "error-changed"
	case EventDisconnected:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is a notification published to subscribers.
type Event struct {
	Kind     EventKind
	State    DeviceState
	Previous DeviceState
	Error    ErrorState
	Err      error // cause of a disconnect, if known
}

// stateMachine owns the device state and last error. Subscribers receive
// events on buffered channels; a full channel drops the event instead of
// stalling the reader. The disconnect event is never dropped: it displaces
// the oldest queued event instead.
type stateMachine struct {
	mu          sync.Mutex
	state       DeviceState
	errState    ErrorState
	errReported bool
	subs        map[int]chan Event
	nextSub     int
	closed      bool
	log         Logger
}

func newStateMachine(log Logger) *stateMachine {
	return &stateMachine{
		state: StateConnecting,
		subs:  make(map[int]chan Event),
		log:   log,
	}
}

func (m *stateMachine) current() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) lastError() (ErrorState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errState, m.errReported
}

// transition moves to next and publishes a state-changed event. Terminal
// states are final; a transition out of one is ignored. Returns whether the
// state changed.
func (m *stateMachine) transition(next DeviceState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	if prev == next || prev.IsTerminal() {
		return false
	}
	m.state = next
	m.log.Debug("device state changed", "from", prev.String(), "to", next.String())
	m.publishLocked(Event{Kind: EventStateChanged, State: next, Previous: prev, Error: m.errState})
	return true
}

// reportError records an error code from the device.
func (m *stateMachine) reportError(code ErrorState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errState = code
	m.errReported = true
	if code != ErrorNone {
		m.log.Debug("device reported error", "code", code.String())
	}
	m.publishLocked(Event{Kind: EventErrorChanged, State: m.state, Previous: m.state, Error: code})
}

// disconnected publishes the one-shot disconnect notification.
func (m *stateMachine) disconnected(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked(Event{Kind: EventDisconnected, State: m.state, Previous: m.state, Error: m.errState, Err: cause})
}

func (m *stateMachine) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
		})
	}
}

// close ends every subscription.
func (m *stateMachine) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *stateMachine) publishLocked(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if ev.Kind != EventDisconnected {
			m.log.Warn("dropping event for slow subscriber", "event", ev.Kind.String())
			continue
		}
		// Only publishLocked sends, under m.mu, so one receive frees a slot.
		select {
		case old := <-ch:
			m.log.Warn("dropping event for slow subscriber", "event", old.Kind.String())
		default:
		}
		ch <- ev
	}
}
