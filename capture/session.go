// Package capture runs one recording from a selected input device into an
// audio.Buffer on a dedicated goroutine.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"hark/audio"
	"hark/log"
)

type Source int

const (
	Microphone Source = iota
	SpeakerLoopback
)

func (s Source) String() string {
	switch s {
	case Microphone:
		return "microphone"
	case SpeakerLoopback:
		return "speaker"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

const DefaultPollInterval = 100 * time.Millisecond

type Config struct {
	SampleRate   int
	PollInterval time.Duration
}

// Device is the input chosen for a capture and the channel count to open it
// with. A nil Info opens the backend's default input.
type Device struct {
	Info     *audio.DeviceInfo
	Channels uint32
}

// Select applies the device rule for src: the default input for the
// microphone, the first loopback-marked input for the speaker. It fails with
// audio.ErrDeviceNotFound when no loopback input exists.
func Select(actx audio.Context, src Source, markers []string) (Device, error) {
	var (
		info     *audio.DeviceInfo
		channels uint32
		err      error
	)
	switch src {
	case SpeakerLoopback:
		info, channels, err = audio.SelectLoopback(actx, markers)
	default:
		info, channels, err = audio.SelectMicrophone(actx)
	}
	if err != nil {
		return Device{}, err
	}
	return Device{Info: info, Channels: channels}, nil
}

// Session is a single capture. The recording flag is set on creation and
// cleared once by Stop; the capture goroutine polls it and exits.
type Session struct {
	actx audio.Context
	src  Source
	dev  Device
	cfg  Config

	recording atomic.Bool
	level     atomic.Uint64 // float64 bits of the last chunk's RMS
	done      chan struct{}

	mu     sync.Mutex
	buf    *audio.Buffer
	device string
	err    error
}

// New prepares a capture of src from dev, usually the result of Select.
func New(actx audio.Context, src Source, dev Device, cfg Config) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if dev.Channels == 0 {
		dev.Channels = 1
	}
	s := &Session{actx: actx, src: src, dev: dev, cfg: cfg, done: make(chan struct{})}
	s.recording.Store(true)
	return s
}

func (s *Session) Source() Source { return s.src }

// Run captures until Stop is called. It must be called exactly once,
// normally on its own goroutine.
func (s *Session) Run() error {
	defer close(s.done)
	err := s.run()
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

func (s *Session) run() error {
	channels := s.dev.Channels
	capture, err := s.actx.NewCapture(s.dev.Info, audio.CaptureConfig{
		SampleRate: uint32(s.cfg.SampleRate),
		Channels:   channels,
	})
	if err != nil {
		return fmt.Errorf("opening capture device: %w", err)
	}
	defer capture.Close()

	buf := audio.NewBuffer(s.cfg.SampleRate, int(channels))
	s.mu.Lock()
	s.buf = buf
	s.device = capture.DeviceName()
	s.mu.Unlock()
	log.Info(fmt.Sprintf("capture_start source=%s device=%q channels=%d", s.src, capture.DeviceName(), channels))

	capture.SetCallback(func(data []byte, _ uint32) {
		if !s.recording.Load() {
			return
		}
		if err := buf.AppendPCM(data); err != nil && !errors.Is(err, audio.ErrFrozen) {
			log.Warnf("capture append: %v", err)
		}
		s.level.Store(math.Float64bits(rms(data)))
	})

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		buf.Freeze()
		return fmt.Errorf("starting capture: %w", err)
	}

	for s.recording.Load() {
		time.Sleep(s.cfg.PollInterval)
	}

	capture.Stop()
	capture.ClearCallback()
	buf.Freeze()
	log.Info(fmt.Sprintf("capture_stop frames=%d duration=%s", buf.Frames(), buf.Duration().Round(time.Millisecond)))
	return nil
}

// Stop clears the recording flag. The capture goroutine notices it within
// one poll interval.
func (s *Session) Stop() { s.recording.Store(false) }

func (s *Session) Recording() bool { return s.recording.Load() }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until Run returns and yields the frozen buffer. The buffer is
// nil when no device could be opened.
func (s *Session) Wait() (*audio.Buffer, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf, s.err
}

// Buffer returns the buffer being filled, or nil before a device is open.
func (s *Session) Buffer() *audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Level is the RMS of the most recent chunk, in [0, 1].
func (s *Session) Level() float64 { return math.Float64frombits(s.level.Load()) }

func rms(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(data); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(data[i:]))) / 32768.0
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}
