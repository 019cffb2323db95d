// Package convert adapts interleaved float32 audio from one sample rate and
// channel layout to another in real time.
//
// Resampling is linear interpolation between neighbouring input frames: no
// lookahead, O(1) per output frame, low fidelity. That is fine for listening
// to a microphone and wrong for anything archival.
package convert

import (
	"errors"
	"fmt"

	"github.com/go-audio/audio"
)

// Source yields interleaved input frames. TryPop copies up to
// len(dst)/channels frames into dst and returns how many it copied.
type Source interface {
	TryPop(dst []float32) int
}

// Adapter converts between two formats. It keeps the fractional read
// position and the two input frames around it between calls, so output is
// continuous however the stream is chopped into buffers.
//
// An Adapter must only be used from one goroutine at a time. Fill does not
// allocate.
type Adapter struct {
	inCh, outCh int
	step        float64 // input frames advanced per output frame

	pos    float64 // position between prev and next, in [0, 1)
	need   int     // input frames to pull before the next output frame
	primed bool

	prev  []float32
	next  []float32
	mixed []float32 // interpolated input frame

	// groups[c] lists the input channels averaged into output channel c.
	groups [][]int
}

// New returns an adapter from in to out.
func New(in, out audio.Format) (*Adapter, error) {
	if in.NumChannels < 1 || out.NumChannels < 1 {
		return nil, errors.New("convert: channel count must be positive")
	}
	if in.SampleRate < 1 || out.SampleRate < 1 {
		return nil, errors.New("convert: sample rate must be positive")
	}

	a := &Adapter{
		inCh:   in.NumChannels,
		outCh:  out.NumChannels,
		step:   float64(in.SampleRate) / float64(out.SampleRate),
		prev:   make([]float32, in.NumChannels),
		next:   make([]float32, in.NumChannels),
		mixed:  make([]float32, in.NumChannels),
		groups: channelMap(in.NumChannels, out.NumChannels),
	}
	a.Reset()
	return a, nil
}

// Reset drops the interpolation history and phase.
func (a *Adapter) Reset() {
	a.pos = 0
	a.need = 1
	a.primed = false
	clear(a.prev)
	clear(a.next)
}

// Fill writes up to len(dst)/OutChannels() output frames into dst, pulling
// input frames from src as needed, and returns the number of frames written.
// When src runs dry Fill stops early and leaves dst past the written frames
// untouched; the next call resumes exactly where this one stopped.
func (a *Adapter) Fill(dst []float32, src Source) int {
	frames := len(dst) / a.outCh
	if a.step == 1 {
		for i := 0; i < frames; i++ {
			if src.TryPop(a.mixed) == 0 {
				return i
			}
			a.mapChannels(dst[i*a.outCh : (i+1)*a.outCh])
		}
		return frames
	}

	for i := 0; i < frames; i++ {
		for a.need > 0 {
			if src.TryPop(a.mixed) == 0 {
				return i
			}
			if !a.primed {
				// Duplicate the first frame as its own left neighbour so
				// the output never strays outside the input's range.
				copy(a.prev, a.mixed)
				a.primed = true
			} else {
				copy(a.prev, a.next)
			}
			copy(a.next, a.mixed)
			a.need--
		}

		t := float32(a.pos)
		for c := range a.mixed {
			a.mixed[c] = a.prev[c] + (a.next[c]-a.prev[c])*t
		}
		a.mapChannels(dst[i*a.outCh : (i+1)*a.outCh])

		a.pos += a.step
		advance := int(a.pos)
		a.pos -= float64(advance)
		a.need = advance
	}
	return frames
}

// Process converts a complete input slice. It is a convenience for offline
// use and tests; it allocates the output.
func (a *Adapter) Process(in []float32) []float32 {
	src := &sliceSource{data: in, channels: a.inCh}
	out := make([]float32, 0, a.OutputFrames(len(in)/a.inCh)*a.outCh+a.outCh)
	buf := make([]float32, 256*a.outCh)
	for {
		n := a.Fill(buf, src)
		out = append(out, buf[:n*a.outCh]...)
		if n < len(buf)/a.outCh {
			return out
		}
	}
}

// OutputFrames estimates how many frames n input frames turn into.
func (a *Adapter) OutputFrames(n int) int {
	return int(float64(n) / a.step)
}

// InChannels returns the channel count Fill and Process consume.
func (a *Adapter) InChannels() int { return a.inCh }

// OutChannels returns the channel count Fill and Process produce.
func (a *Adapter) OutChannels() int { return a.outCh }

// Ratio returns output rate divided by input rate.
func (a *Adapter) Ratio() float64 { return 1 / a.step }

// String describes the conversion, e.g. "1ch->2ch x1.0884".
func (a *Adapter) String() string {
	return fmt.Sprintf("%dch->%dch x%.4f", a.inCh, a.outCh, a.Ratio())
}

func (a *Adapter) mapChannels(out []float32) {
	if a.inCh == a.outCh {
		copy(out, a.mixed)
		return
	}
	for c, group := range a.groups {
		var sum float32
		for _, in := range group {
			sum += a.mixed[in]
		}
		out[c] = sum / float32(len(group))
	}
}

// channelMap decides which input channels feed each output channel.
// Downmixing splits the inputs into contiguous, evenly sized groups and
// averages each group; a mono output therefore averages everything.
// Upmixing copies input channels straight across and repeats the last one
// for the extra outputs.
func channelMap(in, out int) [][]int {
	groups := make([][]int, out)
	if in > out {
		for i := 0; i < in; i++ {
			c := i * out / in
			groups[c] = append(groups[c], i)
		}
		return groups
	}
	for c := range groups {
		groups[c] = []int{min(c, in-1)}
	}
	return groups
}

type sliceSource struct {
	data     []float32
	channels int
}

func (s *sliceSource) TryPop(dst []float32) int {
	n := min(len(dst), len(s.data)) / s.channels
	copy(dst, s.data[:n*s.channels])
	s.data = s.data[n*s.channels:]
	return n
}
