//go:build linux

package beep

import (
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// One client serves every cue; playMu keeps cues from overlapping.
var (
	client     *pulse.Client
	clientErr  error
	clientOnce sync.Once
	playMu     sync.Mutex
)

func connect() (*pulse.Client, error) {
	clientOnce.Do(func() {
		client, clientErr = pulse.NewClient(pulse.ClientApplicationName("hark"))
	})
	return client, clientErr
}

func play(samples []int16) {
	if len(samples) == 0 {
		return
	}
	c, err := connect()
	if err != nil {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()

	remaining := samples
	src := pulse.Int16Reader(func(buf []int16) (int, error) {
		if len(remaining) == 0 {
			return 0, pulse.EndOfData
		}
		n := copy(buf, remaining)
		remaining = remaining[n:]
		return n, nil
	})
	full := uint32(proto.VolumeNorm)
	stream, err := c.NewPlayback(src,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{full, full}
		}),
	)
	if err != nil {
		return
	}
	defer stream.Close()
	stream.Start()
	stream.Drain()
}
