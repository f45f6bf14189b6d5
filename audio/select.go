package audio

import "fmt"

// SelectMicrophone picks the default input device and the channel count to
// open it with: min(device input channels, 2). A nil device means the
// backend's system default; it is opened mono when its channel count is
// unknown.
func SelectMicrophone(ctx Context) (*DeviceInfo, uint32, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, 0, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		d := &devices[i]
		if d.IsDefault && d.InputChannels > 0 {
			return d, clampChannels(d.InputChannels), nil
		}
	}
	return nil, 1, nil
}

// SelectLoopback walks devices in index order and returns the first one whose
// name carries a loopback marker and that has at least one input channel.
func SelectLoopback(ctx Context, markers []string) (*DeviceInfo, uint32, error) {
	if len(markers) == 0 {
		markers = DefaultLoopbackMarkers
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, 0, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		d := &devices[i]
		if d.InputChannels > 0 && IsLoopback(*d, markers) {
			return d, clampChannels(d.InputChannels), nil
		}
	}
	return nil, 0, ErrDeviceNotFound
}

func clampChannels(n int) uint32 {
	if n > MaxChannels {
		return MaxChannels
	}
	if n < 1 {
		return 1
	}
	return uint32(n)
}
