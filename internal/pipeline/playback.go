package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/convert"
	"github.com/petems/chemic/internal/ring"
	"github.com/rs/zerolog"
)

// Playback owns the output stream. Its callback drains the ring buffer
// through a convert.Adapter and pads any shortfall with silence.
type Playback struct {
	stage
	buf   *ring.Buffer
	in    audio.StreamConfig
	delay time.Duration

	adapter *convert.Adapter
	scratch []float32
	outCh   int

	// preroll is the number of buffered input frames to wait for before
	// the first frame is played. Only the callback clears waiting.
	preroll int
	waiting bool

	silent atomic.Uint64
}

// NewPlayback returns a playback stage draining buf, whose frames are in the
// in format. A positive delay holds playback back until that much audio is
// buffered.
func NewPlayback(host audio.Host, buf *ring.Buffer, in audio.StreamConfig, delay time.Duration, log zerolog.Logger) *Playback {
	return &Playback{
		stage: newStage("playback", audio.Output, host, log),
		buf:   buf,
		in:    in,
		delay: delay,
	}
}

// Start prepares the adapter from the capture format to cfg, as returned
// by audio.Negotiate, then opens the output stream and starts it.
func (p *Playback) Start(dev audio.Device, cfg audio.StreamConfig) error {
	adapter, err := convert.New(p.in.AudioFormat(), cfg.AudioFormat())
	if err != nil {
		return p.wrap(err)
	}
	p.adapter = adapter
	p.outCh = cfg.Channels
	p.scratch = make([]float32, scratchSize(cfg))
	p.preroll = min(p.in.FramesFor(p.delay), p.buf.Cap())
	p.waiting = p.preroll > 0

	if err := p.open(dev, cfg, p.process); err != nil {
		return err
	}
	p.log.Debug().Stringer("adapter", adapter).Int("preroll", p.preroll).Msg("Playback ready")
	return nil
}

// SilentFrames returns how many output frames were padded with silence.
func (p *Playback) SilentFrames() uint64 {
	return p.silent.Load()
}

// process runs on the backend's real-time thread.
func (p *Playback) process(out audio.Buffer) {
	p.callbacks.Add(1)

	if out.I16 == nil {
		p.fill(out.F32)
		return
	}

	chunk := len(p.scratch) - len(p.scratch)%p.outCh
	for dst := out.I16; len(dst) > 0; {
		n := min(len(dst), chunk)
		p.fill(p.scratch[:n])
		for i, v := range p.scratch[:n] {
			dst[i] = toInt16(v)
		}
		dst = dst[n:]
	}
}

func (p *Playback) fill(dst []float32) {
	frames := len(dst) / p.outCh
	clear(dst[frames*p.outCh:])

	if p.waiting {
		if p.buf.Len() < p.preroll {
			clear(dst)
			p.silent.Add(uint64(frames))
			return
		}
		p.waiting = false
	}

	n := p.adapter.Fill(dst, p.buf)
	if n < frames {
		clear(dst[n*p.outCh:])
		p.silent.Add(uint64(frames - n))
	}
}

func toInt16(v float32) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}
