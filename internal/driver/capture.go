package driver

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture reads device input frames for record-from-device mode. The malgo
// callback copies interleaved float32 frames into a bounded queue; the
// render thread drains whatever is available without blocking.
type Capture struct {
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	channels int

	mu      sync.Mutex
	pending []float32
	maxHold int
}

// NewCapture opens the default input device. A nil error means frames will
// arrive until Close.
func NewCapture(sampleRate, channels int) (*Capture, error) {
	if channels < 1 {
		channels = 1
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init capture context: %w", err)
	}

	c := &Capture{
		ctx:      ctx,
		channels: channels,
		maxHold:  sampleRate * channels, // one second of backlog, then drop oldest
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			c.push(input, int(frameCount))
		},
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("open capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	c.device = device
	return c, nil
}

func (c *Capture) push(input []byte, frames int) {
	samples := frames * c.channels
	if len(input) < samples*4 {
		samples = len(input) / 4
	}
	c.mu.Lock()
	for i := 0; i < samples; i++ {
		bits := binary.LittleEndian.Uint32(input[i*4:])
		c.pending = append(c.pending, math.Float32frombits(bits))
	}
	if len(c.pending) > c.maxHold {
		c.pending = c.pending[len(c.pending)-c.maxHold:]
	}
	c.mu.Unlock()
}

// ReadInto fills dst with up to len(dst) captured samples (interleaved) and
// returns the count. Never blocks.
func (c *Capture) ReadInto(dst []float32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(dst)
	if n > len(c.pending) {
		n = len(c.pending)
	}
	copy(dst, c.pending[:n])
	c.pending = c.pending[n:]
	return n
}

func (c *Capture) Channels() int { return c.channels }

func (c *Capture) Close() {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}
