package curtain

// Signals published by a Controller configured with a bus. They are
// delivered after the operation has released its key locks.

// ScreenLoaded is published after a screen is instantiated and initialized.
type ScreenLoaded struct {
	Key     string
	Address string
}

// ScreenShown is published after a screen's show transition completes.
type ScreenShown struct {
	Key  string
	Host string // host key when shown as a subscreen
}

// ScreenHidden is published after a screen is hidden, whether or not its
// transition completed.
type ScreenHidden struct {
	Key       string
	Behaviour HideBehaviour
}

// ScreenUnloaded is published after a screen's instance is released.
type ScreenUnloaded struct {
	Key string
}
