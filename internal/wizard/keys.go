package wizard

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds every binding the wizard uses. Each screen shows a subset.
type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Select    key.Binding
	Rescan    key.Binding
	Other     key.Binding
	Submit    key.Binding
	Back      key.Binding
	Cancel    key.Binding
	Reveal    key.Binding
	Change    key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "connect"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Other: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "join other"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "confirm"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "quit"),
		),
		Reveal: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "show/hide"),
		),
		Change: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "change network"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// screenKeys adapts a list of bindings to help.KeyMap.
type screenKeys []key.Binding

// ShortHelp returns keybindings to be shown in the mini help view
func (k screenKeys) ShortHelp() []key.Binding { return k }

// FullHelp returns keybindings for the expanded help view
func (k screenKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k} }

func (m Model) helpKeys() help.KeyMap {
	k := m.keys
	switch m.screen {
	case ScreenNetworks:
		if m.scanning {
			return screenKeys{k.Quit}
		}
		return screenKeys{k.Up, k.Down, k.Select, k.Rescan, k.Other, k.Quit}
	case ScreenManualSSID:
		if m.scanUnavailable {
			return screenKeys{k.Submit, k.Cancel}
		}
		return screenKeys{k.Submit, k.Back}
	case ScreenPassword:
		return screenKeys{k.Submit, k.Reveal, k.Back}
	case ScreenSuccess:
		return screenKeys{k.Change, k.Quit}
	case ScreenProvisioning:
		return screenKeys{k.ForceQuit}
	default:
		return screenKeys{k.Quit}
	}
}
