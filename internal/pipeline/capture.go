package pipeline

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/ring"
	"github.com/rs/zerolog"
)

// Capture owns the input stream and feeds the ring buffer from its callback.
type Capture struct {
	stage
	buf     *ring.Buffer
	scratch []float32

	// peak holds the float32 bits of the largest absolute sample seen since
	// the last TakePeak.
	peak atomic.Uint32
}

// NewCapture returns a capture stage that pushes into buf.
func NewCapture(host audio.Host, buf *ring.Buffer, log zerolog.Logger) *Capture {
	return &Capture{
		stage: newStage("capture", audio.Input, host, log),
		buf:   buf,
	}
}

// Start opens the input stream with cfg, as returned by audio.Negotiate,
// and starts it. Its channel count must match the ring buffer's.
func (c *Capture) Start(dev audio.Device, cfg audio.StreamConfig) error {
	if cfg.Channels != c.buf.Channels() {
		return c.wrap(fmt.Errorf("%w: input has %d channels, buffer holds %d",
			audio.ErrUnsupportedConfig, cfg.Channels, c.buf.Channels()))
	}

	c.scratch = make([]float32, scratchSize(cfg))
	return c.open(dev, cfg, c.process)
}

// TakePeak returns the peak absolute level since the previous call and
// resets it.
func (c *Capture) TakePeak() float32 {
	return math.Float32frombits(c.peak.Swap(0))
}

// process runs on the backend's real-time thread.
func (c *Capture) process(in audio.Buffer) {
	c.callbacks.Add(1)

	if in.I16 == nil {
		c.push(in.F32)
		return
	}

	ch := c.buf.Channels()
	chunk := len(c.scratch) - len(c.scratch)%ch
	for src := in.I16; len(src) >= ch; {
		n := min(len(src), chunk)
		n -= n % ch
		for i, v := range src[:n] {
			c.scratch[i] = float32(v) / 32768
		}
		c.push(c.scratch[:n])
		src = src[n:]
	}
}

func (c *Capture) push(samples []float32) {
	var peak float32
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	for {
		old := c.peak.Load()
		if math.Float32frombits(old) >= peak || c.peak.CompareAndSwap(old, math.Float32bits(peak)) {
			break
		}
	}

	c.buf.TryPush(samples)
}
