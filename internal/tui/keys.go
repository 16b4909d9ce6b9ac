package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Create   key.Binding
	Transmit key.Binding
	Invite   key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Create: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "create lobby"),
		),
		Transmit: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "transmit"),
		),
		Invite: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "invite bots"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Create, k.Transmit, k.Invite, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
