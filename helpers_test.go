package curtain

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"
)

const frame = float32(1.0 / 60)

// pump runs fn on its own goroutine and advances update one frame at a time
// until fn returns, the way a game loop drives blocking screen operations.
func pump(t *testing.T, update func(dt float32), fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("operation did not finish within 5s of frame pumping")
			return nil
		default:
			update(frame)
			time.Sleep(time.Millisecond)
		}
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes the package logger into a buffer for the duration of
// the test.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	SetLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { SetLogger(nil) })
	return buf
}
