package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// PipePort is an in-memory SerialPorter. Lines fed with Feed are read back by
// Monitor; writes are captured for inspection.
type PipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

// NewPipePort returns an open PipePort.
func NewPipePort() *PipePort {
	r, w := io.Pipe()
	return &PipePort{r: r, w: w}
}

// Read implements io.Reader.
func (p *PipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write records b as if it had been sent to the device.
func (p *PipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.written.Write(b)
}

// Close ends the read side with EOF and fails later Feeds.
func (p *PipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.w.Close()
}

// Feed makes line available to readers. It blocks until read.
func (p *PipePort) Feed(line string) error {
	_, err := io.WriteString(p.w, line+"\n")
	return err
}

// Written returns everything written to the port so far.
func (p *PipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// NewMockSerialMux returns a SerialMux whose port replays lines in a loop,
// one every interval, until the mux is closed. Used by -dev mode.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*PipePort] {
	port := NewPipePort()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; len(lines) > 0; i = (i + 1) % len(lines) {
			<-ticker.C
			if err := port.Feed(lines[i]); err != nil {
				return
			}
		}
	}()
	return NewSerialMux(port)
}
