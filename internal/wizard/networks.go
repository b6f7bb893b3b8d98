package wizard

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/improvctl/internal/improv"
	"github.com/muurk/improvctl/internal/ui"
)

// joinOtherLabel is always the last entry of the network list.
const joinOtherLabel = "Join other…"

// networkItem wraps a scanned network for use with bubbles/list
type networkItem struct {
	ssid improv.Ssid
}

func (n networkItem) FilterValue() string { return n.ssid.Name }

// joinOtherItem opens manual SSID entry
type joinOtherItem struct{}

func (joinOtherItem) FilterValue() string { return joinOtherLabel }

func networkItems(networks []improv.Ssid) []list.Item {
	items := make([]list.Item, 0, len(networks)+1)
	for _, n := range networks {
		items = append(items, networkItem{ssid: n})
	}
	return append(items, joinOtherItem{})
}

// networkDelegate renders one network per line:
//
//	→ ▂▄▆█  HomeNet                  -48 dBm  🔒
type networkDelegate struct{}

func (networkDelegate) Height() int                             { return 1 }
func (networkDelegate) Spacing() int                            { return 0 }
func (networkDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (networkDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	selected := index == m.Index()

	var line string
	switch it := item.(type) {
	case networkItem:
		name := it.ssid.Name
		if pad := 24 - lipgloss.Width(name); pad > 0 {
			name += strings.Repeat(" ", pad)
		}
		if selected {
			name = SelectedItemStyle.Render(name)
		}
		line = fmt.Sprintf("%s  %s  %7s  %s",
			ui.SignalIndicator(it.ssid.SignalBars()),
			name,
			fmt.Sprintf("%d dBm", it.ssid.RSSI),
			ui.LockIndicator(it.ssid.Secured),
		)
	case joinOtherItem:
		line = joinOtherLabel
		if selected {
			line = SelectedItemStyle.Render(line)
		}
	default:
		return
	}

	if selected {
		fmt.Fprint(w, SelectedItemStyle.Render("→ ")+line)
		return
	}
	fmt.Fprint(w, "  "+line)
}

func newNetworkList() list.Model {
	l := list.New(nil, networkDelegate{}, DefaultWidth-6, 10)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()
	return l
}
