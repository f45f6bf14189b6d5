//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Codes from linux/input-event-codes.h.
const (
	evKey     = 0x01
	keyLCtrl  = 29
	keyLShift = 42
	keyRShift = 54
	keySpace  = 57
	keyRCtrl  = 97
)

// inputEventSize is sizeof(struct input_event) on 64-bit kernels.
const inputEventSize = 24

type evdevHotkey struct {
	devDir  string
	sysDir  string
	keydown chan struct{}
	keyup   chan struct{}

	mu    sync.Mutex
	files []*os.File
	once  sync.Once
}

// New returns the Ctrl+Shift+Space hotkey read from the keyboard event
// devices in /dev/input. It needs no display server; Register fails unless
// the user may read the devices, usually through the input group.
func New() Hotkey { return newEvdev("/dev/input", "/sys/class/input") }

func newEvdev(devDir, sysDir string) *evdevHotkey {
	return &evdevHotkey{
		devDir:  devDir,
		sysDir:  sysDir,
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *evdevHotkey) Register() error {
	paths, err := keyboards(h.devDir, h.sysDir)
	if err != nil {
		return fmt.Errorf("scanning keyboards: %w", err)
	}
	if len(paths) == 0 {
		return errors.New("no keyboard devices found")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		go h.read(f)
	}
	if len(h.files) == 0 {
		return fmt.Errorf("cannot open any of %d keyboard device(s): add the user to the input group and log in again", len(paths))
	}
	return nil
}

// read decodes events from f until it is closed or exhausted.
func (h *evdevHotkey) read(f *os.File) {
	var c combo
	buf := make([]byte, inputEventSize*16)
	for {
		n, err := f.Read(buf)
		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			ev := buf[i : i+inputEventSize]
			if binary.LittleEndian.Uint16(ev[16:]) != evKey {
				continue
			}
			code := binary.LittleEndian.Uint16(ev[18:])
			value := int32(binary.LittleEndian.Uint32(ev[20:]))
			switch c.feed(code, value) {
			case edgePress:
				notify(h.keydown)
			case edgeRelease:
				notify(h.keyup)
			}
		}
		if err != nil {
			return
		}
	}
}

// notify drops the event when the previous one is still unread.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *evdevHotkey) Unregister() {
	h.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, f := range h.files {
			f.Close()
		}
		h.files = nil
	})
}

func (h *evdevHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *evdevHotkey) Keyup() <-chan struct{}   { return h.keyup }

type edge int

const (
	edgeNone edge = iota
	edgePress
	edgeRelease
)

// combo tracks modifier state across key events. value is 1 for a press,
// 0 for a release and 2 for autorepeat.
type combo struct {
	ctrl, shift, space bool
}

func (c *combo) feed(code uint16, value int32) edge {
	held := value != 0
	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = held
	case keyLShift, keyRShift:
		c.shift = held
	case keySpace:
		switch {
		case value == 1 && !c.space && c.ctrl && c.shift:
			c.space = true
			return edgePress
		case value == 0 && c.space:
			c.space = false
			return edgeRelease
		}
	}
	return edgeNone
}

// keyboards lists the event devices whose key capabilities include the
// space bar, which leaves out mice, lid switches and power buttons.
func keyboards(devDir, sysDir string) ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		caps, err := os.ReadFile(filepath.Join(sysDir, e.Name(), "device", "capabilities", "key"))
		if err != nil {
			continue
		}
		if hasKey(string(caps), keySpace) {
			out = append(out, filepath.Join(devDir, e.Name()))
		}
	}
	return out, nil
}

// hasKey reports whether code is set in a sysfs capability bitmap: hex
// words of 64 bits, most significant word first.
func hasKey(caps string, code int) bool {
	words := strings.Fields(caps)
	idx := len(words) - 1 - code/64
	if idx < 0 {
		return false
	}
	w, err := strconv.ParseUint(words[idx], 16, 64)
	if err != nil {
		return false
	}
	return w&(1<<(code%64)) != 0
}
