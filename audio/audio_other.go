//go:build !linux

package audio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		d := DeviceInfo{
			ID:        hex.EncodeToString(info.ID.Pointer()[:]),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		}
		if full, err := m.ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared); err == nil {
			d.InputChannels = maxFormatChannels(full)
		}
		out = append(out, d)
	}
	return out, nil
}

func maxFormatChannels(info malgo.DeviceInfo) int {
	n := 0
	for i := 0; i < int(info.FormatCount) && i < len(info.Formats); i++ {
		n = max(n, int(info.Formats[i].Channels))
	}
	// Zero channels in a native format means "any"; report stereo.
	if n == 0 && info.FormatCount > 0 {
		n = MaxChannels
	}
	return n
}

func captureConfig(device *DeviceInfo, config CaptureConfig) (malgo.DeviceConfig, error) {
	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = config.Channels
	dc.SampleRate = config.SampleRate
	if device == nil {
		return dc, nil
	}
	raw, err := hex.DecodeString(device.ID)
	if err != nil {
		return dc, fmt.Errorf("device id %q: %w", device.ID, err)
	}
	var id malgo.DeviceID
	copy(id[:], raw)
	dc.Capture.DeviceID = id.Pointer()
	return dc, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	dc, err := captureConfig(device, config)
	if err != nil {
		return nil, err
	}
	c := &malgoCapture{name: "system default"}
	if device != nil {
		c.name = device.Name
	}
	dev, err := malgo.InitDevice(m.ctx.Context, dc, malgo.DeviceCallbacks{Data: c.onData})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.name, err)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	_ = m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	name     string
	callback atomic.Pointer[DataCallback]

	mu      sync.Mutex
	running bool
}

func (c *malgoCapture) onData(_, data []byte, frames uint32) {
	if cb := c.callback.Load(); cb != nil {
		(*cb)(data, frames)
	}
}

func (c *malgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("capture already started")
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}
	c.running = true
	return nil
}

// Stop blocks until miniaudio has delivered its last callback.
func (c *malgoCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback.Store(nil)
	if c.running {
		_ = c.device.Stop()
		c.running = false
	}
}

func (c *malgoCapture) Close() {
	c.Stop()
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }
func (c *malgoCapture) ClearCallback()              { c.callback.Store(nil) }
func (c *malgoCapture) DeviceName() string          { return c.name }
