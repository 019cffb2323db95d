// Package ring implements the bounded single-producer/single-consumer queue
// that carries captured audio from the capture callback to the playback
// callback.
//
// Exactly one goroutine (or foreign thread) may call TryPush and exactly one
// may call TryPop. Neither call blocks, locks or allocates, so both are safe
// on real-time audio threads. The counters and Len may be read from anywhere.
package ring

import "sync/atomic"

// Buffer is a fixed-capacity FIFO of interleaved float32 frames.
type Buffer struct {
	data     []float32
	capacity uint64 // in frames
	channels int

	// Monotonic frame cursors. head is written only by the producer, tail
	// only by the consumer; head-tail is the number of readable frames.
	head atomic.Uint64
	tail atomic.Uint64

	overflowed atomic.Uint64
	underruns  atomic.Uint64
}

// New returns a buffer holding up to capacity frames of channels samples.
func New(capacity, channels int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	if channels < 1 {
		channels = 1
	}
	return &Buffer{
		data:     make([]float32, capacity*channels),
		capacity: uint64(capacity),
		channels: channels,
	}
}

// TryPush appends the whole frames in samples that fit and returns how many
// frames were written. Frames that do not fit are dropped and counted as
// overflow; a trailing partial frame is ignored.
func (b *Buffer) TryPush(samples []float32) int {
	frames := uint64(len(samples) / b.channels)
	if frames == 0 {
		return 0
	}

	head := b.head.Load()
	free := b.capacity - (head - b.tail.Load())
	n := min(frames, free)
	if n < frames {
		b.overflowed.Add(frames - n)
	}
	if n == 0 {
		return 0
	}

	start := head % b.capacity
	first := min(n, b.capacity-start)
	ch := uint64(b.channels)
	copy(b.data[start*ch:(start+first)*ch], samples[:first*ch])
	copy(b.data[:(n-first)*ch], samples[first*ch:n*ch])

	b.head.Store(head + n)
	return int(n)
}

// TryPop copies up to len(dst)/Channels() frames into dst and returns how
// many frames were read. A read that cannot be fully satisfied counts as one
// underrun; the caller fills the rest with silence.
func (b *Buffer) TryPop(dst []float32) int {
	want := uint64(len(dst) / b.channels)
	if want == 0 {
		return 0
	}

	tail := b.tail.Load()
	avail := b.head.Load() - tail
	n := min(want, avail)
	if n < want {
		b.underruns.Add(1)
	}
	if n == 0 {
		return 0
	}

	start := tail % b.capacity
	first := min(n, b.capacity-start)
	ch := uint64(b.channels)
	copy(dst[:first*ch], b.data[start*ch:(start+first)*ch])
	copy(dst[first*ch:n*ch], b.data[:(n-first)*ch])

	b.tail.Store(tail + n)
	return int(n)
}

// Len returns the number of frames waiting to be popped.
func (b *Buffer) Len() int {
	tail := b.tail.Load()
	return int(b.head.Load() - tail)
}

// Cap returns the capacity in frames.
func (b *Buffer) Cap() int {
	return int(b.capacity)
}

// Channels returns the number of samples per frame.
func (b *Buffer) Channels() int {
	return b.channels
}

// Overflowed returns the total number of frames dropped by TryPush.
func (b *Buffer) Overflowed() uint64 {
	return b.overflowed.Load()
}

// Underruns returns how many TryPop calls came back short.
func (b *Buffer) Underruns() uint64 {
	return b.underruns.Load()
}
