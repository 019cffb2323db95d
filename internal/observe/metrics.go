// Package observe exposes pipeline health as OpenTelemetry metrics.
//
// The pipeline keeps its counters as atomics that its callbacks update; the
// instruments here are observable, so the SDK reads those counters at
// collection time and nothing is recorded from an audio thread.
package observe

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every chemic metric.
const meterName = "github.com/petems/chemic"

// Source supplies pipeline counters. *pipeline.Pipeline implements it.
type Source interface {
	Stats() pipeline.Stats
}

// Metrics holds the instruments for one process. Attach the pipeline being
// run with Watch; counters read zero while nothing is attached.
type Metrics struct {
	mu  sync.Mutex
	src Source

	// peak is the float32 bits of the last level passed to RecordPeak.
	peak atomic.Uint32

	runs metric.Int64Counter
	reg  metric.Registration
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	overflowed, err := meter.Int64ObservableCounter("chemic.ring.overflowed_frames",
		metric.WithDescription("Captured frames dropped because the ring buffer was full."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}
	underruns, err := meter.Int64ObservableCounter("chemic.ring.underruns",
		metric.WithDescription("Playback reads that found too few frames in the ring buffer."),
	)
	if err != nil {
		return nil, err
	}
	silent, err := meter.Int64ObservableCounter("chemic.playback.silent_frames",
		metric.WithDescription("Output frames padded with silence."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}
	callbacks, err := meter.Int64ObservableCounter("chemic.stream.callbacks",
		metric.WithDescription("Stream callbacks invoked by the audio backend."),
	)
	if err != nil {
		return nil, err
	}
	buffered, err := meter.Int64ObservableGauge("chemic.ring.buffered_frames",
		metric.WithDescription("Frames waiting in the ring buffer."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}
	peak, err := meter.Float64ObservableGauge("chemic.capture.peak",
		metric.WithDescription("Peak absolute input level over the last status interval."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("chemic.pipeline.runs",
		metric.WithDescription("Completed monitoring runs by result."),
	); err != nil {
		return nil, err
	}

	captureAttr := metric.WithAttributes(attribute.String("stage", "capture"))
	playbackAttr := metric.WithAttributes(attribute.String("stage", "playback"))

	m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.Lock()
		src := m.src
		m.mu.Unlock()
		if src == nil {
			return nil
		}
		s := src.Stats()
		o.ObserveInt64(overflowed, clampInt64(s.Overflowed))
		o.ObserveInt64(underruns, clampInt64(s.Underruns))
		o.ObserveInt64(silent, clampInt64(s.SilentFrames))
		o.ObserveInt64(callbacks, clampInt64(s.CaptureCallbacks), captureAttr)
		o.ObserveInt64(callbacks, clampInt64(s.PlaybackCallbacks), playbackAttr)
		o.ObserveInt64(buffered, int64(s.Buffered))
		o.ObserveFloat64(peak, float64(math.Float32frombits(m.peak.Load())))
		return nil
	}, overflowed, underruns, silent, callbacks, buffered, peak)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Watch attaches src as the pipeline to report on. Pass nil to detach.
func (m *Metrics) Watch(src Source) {
	m.mu.Lock()
	m.src = src
	m.mu.Unlock()
}

// RecordPeak sets the level reported by chemic.capture.peak.
func (m *Metrics) RecordPeak(v float32) {
	m.peak.Store(math.Float32bits(v))
}

// RunFinished counts a completed run. A nil err is a user stop.
func (m *Metrics) RunFinished(ctx context.Context, err error) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("result", Result(err))))
}

// Close unregisters the collection callback.
func (m *Metrics) Close() error {
	return m.reg.Unregister()
}

// Result names the outcome of a run for the result attribute.
func Result(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, audio.ErrUnsupportedConfig):
		return "unsupported_config"
	case errors.Is(err, audio.ErrStreamRuntime):
		return "stream_error"
	}
	return "error"
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
