package serialmux

import (
	"bytes"
	"io"
	"log"
	"sync"
	"time"
)

// MockSerialPort replays fixture data as device output and records
// commands written to it.
type MockSerialPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns every command written so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.w.Close()
	return m.r.Close()
}

// NewMockSerialMux returns a SerialMux that emits fixture every interval
// until closed. fixture should be newline-terminated JSON batch lines.
func NewMockSerialMux(fixture []byte, interval time.Duration) *SerialMux[*MockSerialPort] {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	r, w := io.Pipe()
	port := &MockSerialPort{r: r, w: w}
	log.Printf("Mock serial port replaying %d bytes every %v", len(fixture), interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := w.Write(fixture); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(port)
}
