package hotkey

import (
	"context"
	"time"
)

// Mode tells how a recording started by the hotkey was ended.
type Mode string

const (
	ModePTT    Mode = "ptt"
	ModeToggle Mode = "toggle"
)

// DefaultLongPress separates a tap from a hold.
const DefaultLongPress = 300 * time.Millisecond

// Hybrid turns press/release events of one Hotkey into start and stop
// signals. Any press starts. A press held past longPress stops on its
// release (hold-to-talk); a shorter tap keeps recording until the next
// press is released.
type Hybrid struct {
	hk        Hotkey
	longPress time.Duration
	startCh   chan struct{}
	stopCh    chan Mode
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	if longPress <= 0 {
		longPress = DefaultLongPress
	}
	return &Hybrid{
		hk:        hk,
		longPress: longPress,
		startCh:   make(chan struct{}, 1),
		stopCh:    make(chan Mode, 1),
	}
}

func (h *Hybrid) Start() <-chan struct{} { return h.startCh }
func (h *Hybrid) Stop() <-chan Mode      { return h.stopCh }

// Run processes key events until ctx is done.
func (h *Hybrid) Run(ctx context.Context) {
	for {
		if !recv(ctx, h.hk.Keydown()) || !send(ctx, h.startCh, struct{}{}) {
			return
		}
		timer := time.NewTimer(h.longPress)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !recv(ctx, h.hk.Keyup()) || !send(ctx, h.stopCh, ModePTT) {
				return
			}
			continue
		case <-h.hk.Keyup():
			timer.Stop()
		}
		// Tapped: the next full press ends the recording.
		if !recv(ctx, h.hk.Keydown()) || !recv(ctx, h.hk.Keyup()) {
			return
		}
		if !send(ctx, h.stopCh, ModeToggle) {
			return
		}
	}
}

func recv(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
