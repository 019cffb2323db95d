package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	info := &portaudio.DeviceInfo{
		Name:                    "USB Mic",
		MaxInputChannels:        1,
		MaxOutputChannels:       2,
		DefaultLowInputLatency:  5 * time.Millisecond,
		DefaultLowOutputLatency: 10 * time.Millisecond,
	}
	cfg := StreamConfig{SampleRate: 44100, Channels: 1, FramesPerBuffer: 128}

	in := params(info, Input, cfg)
	assert.Equal(t, info, in.Input.Device)
	assert.Equal(t, 1, in.Input.Channels)
	assert.Equal(t, 5*time.Millisecond, in.Input.Latency)
	assert.Nil(t, in.Output.Device)
	assert.Equal(t, 44100.0, in.SampleRate)
	assert.Equal(t, 128, in.FramesPerBuffer)

	out := params(info, Output, cfg)
	assert.Equal(t, info, out.Output.Device)
	assert.Equal(t, 10*time.Millisecond, out.Output.Latency)
	assert.Nil(t, out.Input.Device)
}

func TestFromInfo(t *testing.T) {
	info := &portaudio.DeviceInfo{
		Index:                    3,
		Name:                     "Headset",
		MaxInputChannels:         1,
		MaxOutputChannels:        2,
		DefaultSampleRate:        48000,
		DefaultLowInputLatency:   time.Millisecond,
		DefaultHighInputLatency:  2 * time.Millisecond,
		DefaultLowOutputLatency:  3 * time.Millisecond,
		DefaultHighOutputLatency: 4 * time.Millisecond,
	}

	in := fromInfo(info, Input)
	assert.Equal(t, "3", in.ID)
	assert.Equal(t, "Headset", in.Name)
	assert.Equal(t, 1, in.MaxChannels(Input))
	assert.Equal(t, time.Millisecond, in.LowLatency)
	assert.False(t, in.IsDefaultSentinel())
	assert.Same(t, info, in.Handle())

	out := fromInfo(info, Output)
	assert.Equal(t, 2, out.MaxChannels(Output))
	assert.Equal(t, 4*time.Millisecond, out.HighLatency)
}

func TestSampleType(t *testing.T) {
	f, err := sampleType(Float32)
	require.NoError(t, err)
	assert.IsType(t, []float32{}, f)

	i, err := sampleType(Int16)
	require.NoError(t, err)
	assert.IsType(t, []int16{}, i)

	_, err = sampleType(SampleFormat(9))
	assert.True(t, errors.Is(err, ErrUnsupportedConfig))
}
