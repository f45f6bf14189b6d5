//go:build darwin

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// Global hotkeys on macOS are delivered through the main thread's run
// loop, so the app runs beside it.
func main() {
	mainthread.Init(run)
}
