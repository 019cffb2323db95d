package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/audio/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	builtin = audio.Device{ID: "0", Name: "Built-in Microphone", MaxInputChannels: 1, Default: true}
	usbMic  = audio.Device{ID: "1", Name: "USB Audio Mic", MaxInputChannels: 2}
	usbOut  = audio.Device{ID: "2", Name: "USB Audio Out", MaxOutputChannels: 2}
	speaker = audio.Device{ID: "3", Name: "Speakers", MaxOutputChannels: 2, Default: true}
)

func newHost() *mock.Host {
	return &mock.Host{
		InputDevices:  []audio.Device{builtin, usbMic},
		OutputDevices: []audio.Device{usbOut, speaker},
	}
}

func TestDefaults(t *testing.T) {
	in, out, err := Defaults{}.Select(context.Background(), newHost())
	require.NoError(t, err)
	assert.Equal(t, builtin, in)
	assert.Equal(t, speaker, out)
}

func TestDefaults_NoDevices(t *testing.T) {
	host := &mock.Host{InputDevices: []audio.Device{usbMic}}
	_, _, err := Defaults{}.Select(context.Background(), host)
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
}

func TestDefaults_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Defaults{}.Select(ctx, newHost())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFixed(t *testing.T) {
	in, out, err := Fixed{Input: usbMic, Output: usbOut}.Select(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, usbMic, in)
	assert.Equal(t, usbOut, out)
}

func TestByName(t *testing.T) {
	tests := []struct {
		name    string
		sel     ByName
		in, out audio.Device
		err     error
	}{
		{name: "defaults", sel: ByName{}, in: builtin, out: speaker},
		{name: "exact ignoring case", sel: ByName{Input: "usb audio mic", Output: "SPEAKERS"}, in: usbMic, out: speaker},
		{name: "unique substring", sel: ByName{Input: "built-in", Output: "out"}, in: builtin, out: usbOut},
		{name: "ambiguous", sel: ByName{Output: "s"}, err: audio.ErrDeviceUnavailable},
		{name: "missing", sel: ByName{Input: "Zoom H4n"}, err: audio.ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out, err := tt.sel.Select(context.Background(), newHost())
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, in)
			assert.Equal(t, tt.out, out)
		})
	}
}

func TestByName_ListError(t *testing.T) {
	host := newHost()
	host.DevicesError = errors.New("backend gone")
	_, _, err := ByName{Input: "usb"}.Select(context.Background(), host)
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
}

type fakeChooser struct {
	picks  []int
	labels []string
	items  [][]string
	err    error
}

func (f *fakeChooser) Choose(label string, items []string) (int, error) {
	f.labels = append(f.labels, label)
	f.items = append(f.items, items)
	if f.err != nil {
		return 0, f.err
	}
	idx := f.picks[0]
	f.picks = f.picks[1:]
	return idx, nil
}

func TestPrompt(t *testing.T) {
	chooser := &fakeChooser{picks: []int{2, 0}}
	p := &Prompt{Chooser: chooser}

	in, out, err := p.Select(context.Background(), newHost())
	require.NoError(t, err)
	assert.Equal(t, "USB Audio Mic", in.Name)
	assert.False(t, in.Default)
	assert.Equal(t, "Speakers", out.Name)
	assert.True(t, out.Default)

	assert.Equal(t, []string{"Select input device to test", "Select output device to play to"}, chooser.labels)
	assert.Equal(t, []string{"Default (Built-in Microphone)", "Built-in Microphone", "USB Audio Mic"}, chooser.items[0])
	assert.Equal(t, []string{"Default (Speakers)", "USB Audio Out", "Speakers"}, chooser.items[1])
}

func TestPrompt_NoDevices(t *testing.T) {
	chooser := &fakeChooser{}
	p := &Prompt{Chooser: chooser}

	_, _, err := p.Select(context.Background(), &mock.Host{})
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.Empty(t, chooser.labels, "nothing to choose from")
}

func TestPrompt_Cancelled(t *testing.T) {
	p := &Prompt{Chooser: &fakeChooser{err: ErrCancelled}}
	_, _, err := p.Select(context.Background(), newHost())
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPrompt_OutOfRange(t *testing.T) {
	p := &Prompt{Chooser: &fakeChooser{picks: []int{9}}}
	_, _, err := p.Select(context.Background(), newHost())
	assert.Error(t, err)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Default (Speakers)", Label(speaker))
	assert.Equal(t, "USB Audio Out", Label(usbOut))
}
