package wizard

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/improvctl/internal/improv"
)

// Screen is the active step of the wizard.
type Screen int

const (
	ScreenConnecting Screen = iota
	ScreenAuthorize
	ScreenNetworks
	ScreenManualSSID
	ScreenPassword
	ScreenProvisioning
	ScreenSuccess
	ScreenError
)

func (s Screen) String() string {
	switch s {
	case ScreenConnecting:
		return "connecting"
	case ScreenAuthorize:
		return "authorize"
	case ScreenNetworks:
		return "networks"
	case ScreenManualSSID:
		return "manual-ssid"
	case ScreenPassword:
		return "password"
	case ScreenProvisioning:
		return "provisioning"
	case ScreenSuccess:
		return "success"
	case ScreenError:
		return "error"
	default:
		return "unknown"
	}
}

// Provisioner is the part of improv.Client the wizard drives.
type Provisioner interface {
	Initialize(ctx context.Context) (improv.DeviceInfo, error)
	Scan(ctx context.Context) ([]improv.Ssid, error)
	Provision(ctx context.Context, ssid, password string, timeout time.Duration) (string, error)
	State() improv.DeviceState
	NextURL() string
	Subscribe(buffer int) (<-chan improv.Event, func())
}

// Options configure a wizard run.
type Options struct {
	// Port is shown in the header, e.g. "/dev/ttyUSB0".
	Port string
	// ProvisionTimeout bounds each provisioning attempt; zero uses the
	// client default.
	ProvisionTimeout time.Duration
}

// Result summarizes how the wizard ended.
type Result struct {
	Info        improv.DeviceInfo
	Identified  bool
	Provisioned bool
	SSID        string // network joined during this run, if any
	NextURL     string
	Err         error
}

// Messages for async operations
type initializedMsg struct {
	info    improv.DeviceInfo
	state   improv.DeviceState
	nextURL string
	err     error
}

type scanMsg struct {
	networks []improv.Ssid
	err      error
}

type provisionedMsg struct {
	ssid    string
	nextURL string
	err     error
}

type clientEventMsg struct {
	event improv.Event
}

type eventsClosedMsg struct{}

// Model is the bubbletea model for the provisioning flow.
type Model struct {
	ctx         context.Context
	client      Provisioner
	opts        Options
	events      <-chan improv.Event
	unsubscribe func()

	screen     Screen
	info       improv.DeviceInfo
	identified bool

	networks        []improv.Ssid
	scanning        bool
	scanUnavailable bool
	deviceError     improv.ErrorState
	notice          string

	list          list.Model
	ssidInput     textinput.Model
	passwordInput textinput.Model
	selected      string
	manual        bool

	provisioned bool
	joined      string
	nextURL     string
	errTitle    string
	err         error

	spinner spinner.Model
	help    help.Model
	keys    keyMap
	width   int
	height  int
}

// New creates the wizard model and subscribes to client events.
// Call Close when the program has exited.
func New(ctx context.Context, client Provisioner, opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ssidInput := textinput.New()
	ssidInput.Placeholder = "Network name"
	ssidInput.CharLimit = 32
	ssidInput.Width = 32

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.CharLimit = 64
	passwordInput.Width = 32
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.EchoCharacter = '•'

	events, unsubscribe := client.Subscribe(16)

	return Model{
		ctx:           ctx,
		client:        client,
		opts:          opts,
		events:        events,
		unsubscribe:   unsubscribe,
		screen:        ScreenConnecting,
		list:          newNetworkList(),
		ssidInput:     ssidInput,
		passwordInput: passwordInput,
		spinner:       s,
		help:          help.New(),
		keys:          newKeyMap(),
		width:         DefaultWidth,
		height:        DefaultHeight,
	}
}

// Close releases the event subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Screen returns the active screen.
func (m Model) Screen() Screen {
	return m.screen
}

// Result reports the outcome so far.
func (m Model) Result() Result {
	return Result{
		Info:        m.info,
		Identified:  m.identified,
		Provisioned: m.provisioned,
		SSID:        m.joined,
		NextURL:     m.nextURL,
		Err:         m.err,
	}
}

// Init starts the identify handshake.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.initialize(),
		waitForEvent(m.events),
	)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		listHeight := msg.Height - 16
		if listHeight < 4 {
			listHeight = 4
		}
		m.list.SetSize(msg.Width-6, listHeight)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.ForceQuit) {
			return m, tea.Quit
		}
		return m.updateKeys(msg)

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case initializedMsg:
		return m.handleInitialized(msg)

	case scanMsg:
		return m.handleScan(msg)

	case provisionedMsg:
		return m.handleProvisioned(msg)

	case clientEventMsg:
		next, cmd := m.handleEvent(msg.event)
		return next, tea.Batch(cmd, waitForEvent(m.events))

	case eventsClosedMsg:
		return m, nil
	}

	// Cursor blink and friends.
	var cmd tea.Cmd
	switch m.screen {
	case ScreenManualSSID:
		m.ssidInput, cmd = m.ssidInput.Update(msg)
	case ScreenPassword:
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

// busy reports whether a spinner is on screen.
func (m Model) busy() bool {
	switch m.screen {
	case ScreenConnecting, ScreenAuthorize, ScreenProvisioning:
		return true
	case ScreenNetworks:
		return m.scanning
	}
	return false
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.screen {
	case ScreenNetworks:
		return m.updateNetworks(msg)
	case ScreenManualSSID:
		return m.updateManualSSID(msg)
	case ScreenPassword:
		return m.updatePassword(msg)
	case ScreenSuccess:
		if key.Matches(msg, m.keys.Change) {
			return m.startScan()
		}
		if key.Matches(msg, m.keys.Quit) || key.Matches(msg, m.keys.Submit) {
			return m, tea.Quit
		}
	case ScreenProvisioning:
		// Only ctrl+c leaves while credentials are in flight.
	default:
		if key.Matches(msg, m.keys.Quit) || key.Matches(msg, m.keys.Submit) {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) updateNetworks(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if m.scanning {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Rescan):
		return m.startScan()

	case key.Matches(msg, m.keys.Other):
		return m.enterManualSSID()

	case key.Matches(msg, m.keys.Select):
		switch item := m.list.SelectedItem().(type) {
		case networkItem:
			m.selected = item.ssid.Name
			m.manual = false
			if item.ssid.Secured {
				return m.enterPassword()
			}
			return m.startProvision(item.ssid.Name, "")
		case joinOtherItem:
			return m.enterManualSSID()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateManualSSID(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.ssidInput.Blur()
		if m.scanUnavailable {
			return m, tea.Quit
		}
		m.screen = ScreenNetworks
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		ssid := m.ssidInput.Value()
		if ssid == "" {
			m.notice = "Enter a network name"
			return m, nil
		}
		m.ssidInput.Blur()
		m.selected = ssid
		m.manual = true
		return m.enterPassword()
	}

	var cmd tea.Cmd
	m.ssidInput, cmd = m.ssidInput.Update(msg)
	return m, cmd
}

func (m Model) updatePassword(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.passwordInput.Reset()
		m.passwordInput.Blur()
		if m.manual {
			return m.enterManualSSID()
		}
		m.screen = ScreenNetworks
		return m, nil

	case key.Matches(msg, m.keys.Reveal):
		if m.passwordInput.EchoMode == textinput.EchoPassword {
			m.passwordInput.EchoMode = textinput.EchoNormal
		} else {
			m.passwordInput.EchoMode = textinput.EchoPassword
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		password := m.passwordInput.Value()
		// A known secured network always needs a password; a manually
		// entered one may be open.
		if password == "" && !m.manual {
			m.notice = "Enter the network password"
			return m, nil
		}
		m.passwordInput.Reset()
		m.passwordInput.Blur()
		return m.startProvision(m.selected, password)
	}

	var cmd tea.Cmd
	m.passwordInput, cmd = m.passwordInput.Update(msg)
	return m, cmd
}

func (m Model) enterManualSSID() (tea.Model, tea.Cmd) {
	m.screen = ScreenManualSSID
	m.notice = ""
	if m.manual && m.selected != "" {
		m.ssidInput.SetValue(m.selected)
	} else {
		m.ssidInput.Reset()
	}
	return m, m.ssidInput.Focus()
}

func (m Model) enterPassword() (tea.Model, tea.Cmd) {
	m.screen = ScreenPassword
	m.notice = ""
	m.passwordInput.Reset()
	m.passwordInput.EchoMode = textinput.EchoPassword
	return m, m.passwordInput.Focus()
}

func (m Model) startScan() (tea.Model, tea.Cmd) {
	m.screen = ScreenNetworks
	m.scanning = true
	m.notice = ""
	return m, tea.Batch(m.spinner.Tick, m.scan())
}

func (m Model) startProvision(ssid, password string) (tea.Model, tea.Cmd) {
	m.screen = ScreenProvisioning
	m.selected = ssid
	m.notice = ""
	m.deviceError = improv.ErrorNone
	return m, tea.Batch(m.spinner.Tick, m.provision(ssid, password))
}

func (m Model) fail(title string, err error) (tea.Model, tea.Cmd) {
	m.screen = ScreenError
	m.scanning = false
	m.errTitle = title
	m.err = err
	return m, nil
}

func (m Model) handleInitialized(msg initializedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return m.fail("Unable to detect Improv service on connected device", msg.err)
	}
	m.info = msg.info
	m.identified = true

	switch msg.state {
	case improv.StateProvisioned:
		m.screen = ScreenSuccess
		m.provisioned = true
		m.nextURL = msg.nextURL
		return m, nil
	case improv.StateAuthorizationRequired:
		m.screen = ScreenAuthorize
		return m, m.spinner.Tick
	}
	return m.startScan()
}

func (m Model) handleScan(msg scanMsg) (tea.Model, tea.Cmd) {
	m.scanning = false
	if m.screen != ScreenNetworks {
		return m, nil
	}

	if msg.err != nil {
		if errors.Is(msg.err, context.Canceled) {
			return m, tea.Quit
		}
		if sessionEnded(msg.err) {
			return m.fail("Scan failed", msg.err)
		}
		// Without a list to fall back on, go straight to manual entry.
		if m.networks == nil {
			m.scanUnavailable = true
			return m.enterManualSSID()
		}
		m.notice = "Scan failed: " + errorText(msg.err)
		return m, nil
	}

	previous := ""
	if item, ok := m.list.SelectedItem().(networkItem); ok {
		previous = item.ssid.Name
	}

	m.scanUnavailable = false
	m.networks = msg.networks
	cmd := m.list.SetItems(networkItems(msg.networks))

	index := 0
	for i, n := range msg.networks {
		if n.Name == previous {
			index = i
			break
		}
	}
	m.list.Select(index)
	return m, cmd
}

func (m Model) handleProvisioned(msg provisionedMsg) (tea.Model, tea.Cmd) {
	if msg.err == nil {
		m.screen = ScreenSuccess
		m.provisioned = true
		m.joined = msg.ssid
		m.nextURL = msg.nextURL
		m.err = nil
		return m, nil
	}

	switch {
	case errors.Is(msg.err, context.Canceled):
		return m, tea.Quit
	case sessionEnded(msg.err):
		return m.fail("Provisioning failed", msg.err)
	}

	// The device is still usable: back to the form with the reason shown.
	m.err = msg.err
	m.notice = errorText(msg.err)
	if m.scanUnavailable || m.manual {
		return m.enterManualSSIDKeepNotice()
	}
	m.screen = ScreenNetworks
	return m, nil
}

func (m Model) enterManualSSIDKeepNotice() (tea.Model, tea.Cmd) {
	notice := m.notice
	next, cmd := m.enterManualSSID()
	model := next.(Model)
	model.notice = notice
	return model, cmd
}

func (m Model) handleEvent(ev improv.Event) (Model, tea.Cmd) {
	switch ev.Kind {
	case improv.EventDisconnected:
		if m.screen == ScreenSuccess || m.screen == ScreenError {
			return m, nil
		}
		next, cmd := m.fail("Disconnected", ev.Err)
		return next.(Model), cmd

	case improv.EventErrorChanged:
		m.deviceError = ev.Error

	case improv.EventStateChanged:
		switch {
		case ev.State == improv.StateError && m.screen != ScreenError:
			next, cmd := m.fail("The device session failed", nil)
			return next.(Model), cmd
		case ev.State == improv.StateReady && m.screen == ScreenAuthorize:
			next, cmd := m.startScan()
			return next.(Model), cmd
		}
	}
	return m, nil
}

// noticeText is the inline message above the network form. It mirrors the
// device error, except that an unknown-command error is expected after a
// scan the firmware does not support.
func (m Model) noticeText() string {
	if m.notice != "" {
		return m.notice
	}
	switch m.deviceError {
	case improv.ErrorNone:
		return ""
	case improv.ErrorUnknownCommand:
		if m.scanUnavailable {
			return ""
		}
	}
	return m.deviceError.Description()
}

// sessionEnded reports errors after which no further command can succeed.
func sessionEnded(err error) bool {
	return errors.Is(err, improv.ErrDisconnected) ||
		errors.Is(err, improv.ErrSessionFailed) ||
		errors.Is(err, improv.ErrProtocolViolation)
}

func errorText(err error) string {
	if code, ok := improv.DeviceErrorCode(err); ok {
		return code.Description()
	}
	if errors.Is(err, improv.ErrTimeout) {
		return "Timeout"
	}
	return err.Error()
}

func (m Model) initialize() tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		info, err := client.Initialize(ctx)
		return initializedMsg{
			info:    info,
			state:   client.State(),
			nextURL: client.NextURL(),
			err:     err,
		}
	}
}

func (m Model) scan() tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		networks, err := client.Scan(ctx)
		return scanMsg{networks: networks, err: err}
	}
}

func (m Model) provision(ssid, password string) tea.Cmd {
	ctx, client, timeout := m.ctx, m.client, m.opts.ProvisionTimeout
	return func() tea.Msg {
		nextURL, err := client.Provision(ctx, ssid, password, timeout)
		return provisionedMsg{ssid: ssid, nextURL: nextURL, err: err}
	}
}

func waitForEvent(events <-chan improv.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return clientEventMsg{event: ev}
	}
}
