package audio

import (
	"errors"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext is an in-memory backend. Captures replay the configured PCM
// once started and accept frames pushed with Inject.
type FakeContext struct {
	devices  []DeviceInfo
	pcm      []int16
	channels int
	realtime bool

	mu       sync.Mutex
	captures []*FakeCapture
	opened   chan *FakeCapture
	startErr error
}

func NewFakeContext(devices ...DeviceInfo) *FakeContext {
	return &FakeContext{devices: devices, channels: 1, opened: make(chan *FakeCapture, 16)}
}

// NewFakeContextFromWAV serves one default microphone and one loopback
// device, both replaying the file's samples.
func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	w, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	f := NewFakeContext(
		DeviceInfo{ID: "fake-mic", Name: "Fake Microphone", InputChannels: w.Channels, IsDefault: true},
		DeviceInfo{ID: "fake-mic.monitor", Name: "Monitor of Fake Output", InputChannels: w.Channels},
	)
	f.pcm = w.Samples
	f.channels = w.Channels
	f.realtime = realtime
	return f, nil
}

// FailStart makes every subsequent capture fail to start with err.
func (f *FakeContext) FailStart(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	out := make([]DeviceInfo, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &FakeCapture{
		device:   device,
		config:   config,
		pcm:      f.pcm,
		channels: f.channels,
		realtime: f.realtime,
		startErr: f.startErr,
		started:  make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	select {
	case f.opened <- c:
	default:
	}
	return c, nil
}

// Opened delivers captures as they are created.
func (f *FakeContext) Opened() <-chan *FakeCapture { return f.opened }

func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeCapture, len(f.captures))
	copy(out, f.captures)
	return out
}

type FakeCapture struct {
	device   *DeviceInfo
	config   CaptureConfig
	pcm      []int16
	channels int
	realtime bool
	startErr error
	started  chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	running  bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) Config() CaptureConfig { return f.config }
func (f *FakeCapture) Device() *DeviceInfo   { return f.device }

// Started is closed once Start succeeds.
func (f *FakeCapture) Started() <-chan struct{} { return f.started }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string {
	if f.device != nil {
		return f.device.Name
	}
	return "fake"
}

// Inject delivers interleaved samples through the callback as if the
// device produced them. It reports whether the device was running.
func (f *FakeCapture) Inject(samples []int16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false
	}
	f.deliver(samples)
	return true
}

// deliver must be called with f.mu held.
func (f *FakeCapture) deliver(samples []int16) {
	if f.cb == nil || len(samples) == 0 {
		return
	}
	channels := int(f.config.Channels)
	if channels < 1 {
		channels = 1
	}
	f.cb(encodePCM(samples), uint32(len(samples)/channels))
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return errors.New("fake capture already running")
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()
	close(f.started)

	chunk := fakeFrameSize * max(f.channels, 1)
	go func() {
		defer close(f.feedDone)
		interval := time.Duration(0)
		if f.realtime && f.config.SampleRate > 0 {
			interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.config.SampleRate)
		}
		for pos := 0; pos < len(f.pcm); pos += chunk {
			end := min(pos+chunk, len(f.pcm))
			f.mu.Lock()
			if !f.running {
				f.mu.Unlock()
				return
			}
			f.deliver(f.pcm[pos:end])
			f.mu.Unlock()
			if interval == 0 {
				continue
			}
			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	done := f.feedDone
	f.mu.Unlock()
	<-done
}

func (f *FakeCapture) Close() { f.Stop() }
