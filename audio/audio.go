package audio

import (
	"encoding/binary"
	"errors"
	"strings"
)

const (
	SampleRate    = 44100
	BitsPerSample = 16
	MaxChannels   = 2
)

var ErrDeviceNotFound = errors.New("audio: no matching capture device")

// DefaultLoopbackMarkers match devices that capture system output rather
// than a microphone. PulseAudio names them "Monitor of ..." with IDs ending
// in ".monitor"; Windows and macOS drivers use the other names.
var DefaultLoopbackMarkers = []string{
	"loopback", "monitor of", ".monitor",
	"stereo mix", "what u hear", "blackhole", "soundflower",
}

// IsLoopback reports whether the device name or ID contains one of markers,
// compared case-insensitively.
func IsLoopback(d DeviceInfo, markers []string) bool {
	name := strings.ToLower(d.Name)
	id := strings.ToLower(d.ID)
	for _, m := range markers {
		m = strings.ToLower(m)
		if m == "" {
			continue
		}
		if strings.Contains(name, m) || strings.Contains(id, m) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved little-endian int16 PCM.
type DataCallback func(data []byte, frameCount uint32)

// encodePCM converts samples to the byte layout a DataCallback receives.
func encodePCM(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID            string // opaque platform-specific identifier
	Name          string
	InputChannels int
	IsDefault     bool
}

type Context interface {
	// Devices lists capture devices in backend index order.
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	// Stop returns once no further callbacks will be delivered.
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
