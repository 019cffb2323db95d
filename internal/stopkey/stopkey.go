// Package stopkey waits for the key press that ends a monitoring run.
package stopkey

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Watcher blocks until the user asks to stop. Wait returns nil on a stop
// key and ctx.Err() when ctx ends first.
type Watcher interface {
	Wait(ctx context.Context) error
}

// Func adapts a function to a Watcher.
type Func func(ctx context.Context) error

func (f Func) Wait(ctx context.Context) error { return f(ctx) }

// Never is a Watcher that only returns when ctx ends.
var Never Watcher = Func(func(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
})

// Terminal watches a terminal for Escape, Backspace, Delete or Ctrl-C.
//
// The reading goroutine cannot be interrupted, so after ctx ends it stays
// blocked until the next byte arrives or the input is closed. That is
// harmless for stdin in a process that is about to exit.
type Terminal struct {
	in  io.Reader
	fd  int
	tty bool
	log zerolog.Logger
}

// New watches f, normally os.Stdin. When f is not a terminal Wait only
// returns when ctx ends.
func New(f *os.File, log zerolog.Logger) *Terminal {
	fd := int(f.Fd())
	return &Terminal{in: f, fd: fd, tty: term.IsTerminal(fd), log: log}
}

// NewReader watches a plain byte stream without touching terminal modes.
func NewReader(r io.Reader, log zerolog.Logger) *Terminal {
	return &Terminal{in: r, fd: -1, tty: true, log: log}
}

func (t *Terminal) Wait(ctx context.Context) error {
	if !t.tty {
		t.log.Debug().Msg("Input is not a terminal, stop keys disabled")
		return Never.Wait(ctx)
	}

	if t.fd >= 0 {
		state, err := term.MakeRaw(t.fd)
		if err != nil {
			return fmt.Errorf("failed to put terminal in raw mode: %w", err)
		}
		defer func() {
			if err := term.Restore(t.fd, state); err != nil {
				t.log.Warn().Err(err).Msg("Failed to restore terminal")
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- readUntilStop(t.in) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if errors.Is(err, io.EOF) {
			// Input closed: nothing more can be typed, so only ctx can
			// end the run.
			t.log.Debug().Msg("Input closed, stop keys disabled")
			return Never.Wait(ctx)
		}
		return err
	}
}

func readUntilStop(r io.Reader) error {
	buf := make([]byte, 32)
	for {
		n, err := r.Read(buf)
		if n > 0 && IsStop(buf[:n]) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

const (
	ctrlC     = 0x03
	backspace = 0x08
	escape    = 0x1b
	del       = 0x7f
)

// IsStop reports whether one read from a raw terminal holds a stop key.
// A lone ESC is the Escape key; longer sequences starting with ESC are
// cursor and function keys, of which only Delete (ESC [ 3 ~) stops.
func IsStop(chunk []byte) bool {
	for len(chunk) > 0 {
		if chunk[0] == escape {
			if len(chunk) == 1 {
				return true
			}
			if bytes.HasPrefix(chunk, []byte("\x1b[3~")) {
				return true
			}
			chunk = skipSequence(chunk)
			continue
		}
		switch chunk[0] {
		case ctrlC, backspace, del:
			return true
		}
		chunk = chunk[1:]
	}
	return false
}

// skipSequence drops one escape sequence from the front of chunk.
func skipSequence(chunk []byte) []byte {
	if len(chunk) < 2 || (chunk[1] != '[' && chunk[1] != 'O') {
		// ESC followed by a plain key is Alt+key.
		return chunk[min(2, len(chunk)):]
	}
	for i := 2; i < len(chunk); i++ {
		if chunk[i] >= 0x40 && chunk[i] <= 0x7e {
			return chunk[i+1:]
		}
	}
	return nil
}
