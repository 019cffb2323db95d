package app

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/pipeline"
	"github.com/petems/chemic/internal/selector"
)

// meterWidth is the number of cells in the level bar.
const meterWidth = 30

// floorDB is the level shown as an empty meter.
const floorDB = -60.0

// Console is a StatusUpdater that writes to a terminal. The level line is
// redrawn in place with a carriage return, which also works while the
// terminal is in raw mode.
type Console struct {
	Out io.Writer

	mu      sync.Mutex
	drawn   bool
	running bool
}

func NewConsole(out io.Writer) *Console {
	return &Console{Out: out}
}

func (c *Console) SetRunning(info pipeline.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	writeDevice(c.Out, "Input", info.InputDevice, info.Input)
	writeDevice(c.Out, "Output", info.OutputDevice, info.Output)
	if info.Delay > 0 {
		fmt.Fprintf(c.Out, "Playing microphone through output device with a %s delay...\n", info.Delay)
	} else {
		fmt.Fprintln(c.Out, "Playing microphone through output device...")
	}
	fmt.Fprintln(c.Out, "Press the ESCAPE or BACKSPACE key to stop..")
	c.running = true
}

func (c *Console) SetLevel(peak float32, stats pipeline.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	fmt.Fprintf(c.Out, "\r%s  buffered %5d  underruns %d  dropped %d ",
		Meter(peak), stats.Buffered, stats.Underruns, stats.Overflowed)
	c.drawn = true
}

func (c *Console) SetStopped(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drawn {
		fmt.Fprint(c.Out, "\r\n")
		c.drawn = false
	}
	c.running = false
	if err != nil {
		fmt.Fprintf(c.Out, "Stopped: %v\n", err)
		return
	}
	fmt.Fprintln(c.Out, "Stopped.")
}

func writeDevice(w io.Writer, title string, dev audio.Device, cfg audio.StreamConfig) {
	fmt.Fprintf(w, "== == == == %s Device == == == ==\n", title)
	fmt.Fprintf(w, "Name       : %s\n", selector.Label(dev))
	fmt.Fprintf(w, "Channels   : %d\n", cfg.Channels)
	fmt.Fprintf(w, "Sample Rate: %dHz\n", cfg.SampleRate)
	fmt.Fprintf(w, "Format     : %s\n", cfg.Format)
	fmt.Fprint(w, "== == == == == === === == == == == ==\n\n")
}

// Meter renders a peak level as a bar and dBFS reading.
func Meter(peak float32) string {
	db := floorDB
	if peak > 0 {
		db = max(20*math.Log10(float64(peak)), floorDB)
	}
	filled := int(math.Round((db - floorDB) / -floorDB * meterWidth))
	filled = min(max(filled, 0), meterWidth)

	bar := strings.Repeat("#", filled) + strings.Repeat(" ", meterWidth-filled)
	if db <= floorDB {
		return fmt.Sprintf("[%s]   -inf dBFS", bar)
	}
	return fmt.Sprintf("[%s] %6.1f dBFS", bar, db)
}
