package app

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/stream-pulse/pulse/internal/tui/views/help"
)

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Filter      key.Binding
	ClearFilter key.Binding
	Apply       key.Binding
	Escape      key.Binding
	Up          key.Binding
	Down        key.Binding
	Help        key.Binding
	Debug       key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "edit filter"),
		),
		ClearFilter: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear filter"),
		),
		Apply: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "apply filter"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel / close overlay"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "debug log"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// HelpBindings lists the bindings shown in the help overlay.
func (k KeyMap) HelpBindings() []help.Binding {
	var out []help.Binding
	for _, b := range []key.Binding{k.Filter, k.Apply, k.ClearFilter, k.Escape, k.Up, k.Down, k.Help, k.Debug, k.Quit} {
		h := b.Help()
		out = append(out, help.Binding{Key: h.Key, Desc: h.Desc})
	}
	return out
}
