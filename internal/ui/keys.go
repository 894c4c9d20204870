package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the keyboard bindings. The monitor is display-only, so
// quitting is all there is.
type keyMap struct {
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
