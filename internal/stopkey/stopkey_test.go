package stopkey

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIsStop(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"escape", "\x1b", true},
		{"backspace", "\x7f", true},
		{"ctrl-h", "\x08", true},
		{"ctrl-c", "\x03", true},
		{"delete", "\x1b[3~", true},
		{"letters", "hello", false},
		{"enter", "\r", false},
		{"arrow up", "\x1b[A", false},
		{"page down", "\x1b[6~", false},
		{"f1", "\x1bOP", false},
		{"alt-x", "\x1bx", false},
		{"arrow then backspace", "\x1b[B\x7f", true},
		{"typed then ctrl-c", "ab\x03", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStop([]byte(tt.input)))
		})
	}
}

func TestTerminal_StopKey(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	watcher := NewReader(r, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- watcher.Wait(context.Background()) }()

	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = w.Write([]byte{escape})
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stop key not noticed")
	}
	w.Close()
}

func TestTerminal_Cancelled(t *testing.T) {
	r, w := io.Pipe()
	watcher := NewReader(r, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel not noticed")
	}

	// Release the reader goroutine.
	w.Close()
	r.Close()
	goleak.VerifyNone(t)
}

func TestTerminal_ClosedInputWaitsForContext(t *testing.T) {
	r, w := io.Pipe()
	w.Close()
	watcher := NewReader(r, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, watcher.Wait(ctx), context.DeadlineExceeded)
}

func TestNever(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Never.Wait(ctx), context.Canceled)
}
