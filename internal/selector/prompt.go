package selector

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/petems/chemic/internal/audio"
)

// Chooser asks the user to pick one of items and returns its index.
type Chooser interface {
	Choose(label string, items []string) (int, error)
}

// Prompt asks the user for each device in turn. The system default is
// listed first, followed by every device of that direction, so the default
// can be chosen by pressing enter.
type Prompt struct {
	Chooser Chooser
}

// NewPrompt returns a Prompt that draws its menus with promptui on the
// given terminal streams. Nil streams mean stdin and stdout.
func NewPrompt(stdin io.ReadCloser, stdout io.WriteCloser) *Prompt {
	return &Prompt{Chooser: &PromptUI{Stdin: stdin, Stdout: stdout}}
}

func (p *Prompt) Select(ctx context.Context, host audio.Host) (audio.Device, audio.Device, error) {
	in, err := p.choose(ctx, host, audio.Input, "Select input device to test")
	if err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	out, err := p.choose(ctx, host, audio.Output, "Select output device to play to")
	if err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	return in, out, nil
}

func (p *Prompt) choose(ctx context.Context, host audio.Host, dir audio.Direction, label string) (audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return audio.Device{}, err
	}

	devices, err := Candidates(host, dir)
	if err != nil {
		return audio.Device{}, err
	}

	items := make([]string, len(devices))
	for i, d := range devices {
		items[i] = Label(d)
	}

	idx, err := p.Chooser.Choose(label, items)
	if err != nil {
		return audio.Device{}, err
	}
	if idx < 0 || idx >= len(devices) {
		return audio.Device{}, fmt.Errorf("selection %d out of range", idx)
	}
	return devices[idx], nil
}

// Candidates lists the devices offered for dir: the system default first,
// then every device of that direction. The default therefore appears twice,
// once under its plain name.
func Candidates(host audio.Host, dir audio.Direction) ([]audio.Device, error) {
	devices, err := host.Devices(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s devices: %v", audio.ErrDeviceUnavailable, dir, err)
	}

	var out []audio.Device
	if def, err := host.DefaultDevice(dir); err == nil {
		def.Default = true
		out = append(out, def)
	}
	for _, d := range devices {
		d.Default = false
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no %s devices available", audio.ErrDeviceUnavailable, dir)
	}
	return out, nil
}

// PromptUI is a Chooser backed by an interactive promptui menu.
type PromptUI struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
	// Size is the number of rows shown at once. Defaults to 10.
	Size int
}

func (c *PromptUI) Choose(label string, items []string) (int, error) {
	size := c.Size
	if size <= 0 {
		size = 10
	}
	sel := promptui.Select{
		Label:  label,
		Items:  items,
		Size:   size,
		Stdin:  c.Stdin,
		Stdout: c.Stdout,
		Searcher: func(input string, index int) bool {
			return containsFold(items[index], input)
		},
	}
	idx, _, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
			return 0, ErrCancelled
		}
		return 0, fmt.Errorf("device prompt: %w", err)
	}
	return idx, nil
}
