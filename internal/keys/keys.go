package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the login screen.
type KeyMap struct {
	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Result screen
	Confirm key.Binding
	Retry   key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter", "q"),
			key.WithHelp("enter", "done"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "try again"),
		),
	}
}

// ShortHelp returns the bindings shown on the result screen.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Confirm, k.Retry, k.Quit}
}
