package hotkey

// Hotkey is a global key combination reported as press and release events.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Combo is the combination registered by New.
const Combo = "Ctrl+Shift+Space"
