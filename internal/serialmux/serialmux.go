// Package serialmux fans out the text lines of one serial device, the
// vehicle gateway, to any number of in-process subscribers, and serialises
// commands written back to it.
package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial mux closed")
)

// subscriberBuffer is the per-subscriber line backlog. Lines beyond it are
// dropped for that subscriber only.
const subscriberBuffer = 16

// SerialMuxInterface is what the gateway feed and the daemon need from a mux.
type SerialMuxInterface interface {
	// Subscribe returns an id for Unsubscribe and a channel of lines. The
	// channel is closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one line to the device.
	SendCommand(string) error
	// Monitor reads the port until it is exhausted, the mux is closed or
	// ctx is done.
	Monitor(context.Context) error
	Close() error
	// AttachAdminRoutes mounts serial/tail, serial/send and serial/stats on
	// the tsweb debugger.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats counts the traffic seen by a mux.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// SerialMux owns a port of type T.
type SerialMux[T SerialPorter] struct {
	port T

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]chan string
	closed  bool
	lines   uint64
	dropped uint64
}

var _ SerialMuxInterface = (*SerialMux[*PipePort])(nil)

// NewSerialMux wraps port. Nothing is read until Monitor runs.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subs: make(map[string]chan string)}
}

// Subscribe registers a new line subscriber. After Close the returned
// channel is already closed.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
	} else {
		s.subs[id] = ch
	}
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// SendCommand writes command to the device, adding the newline if missing.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(command))
	switch {
	case err != nil:
		return fmt.Errorf("send %q: %w", strings.TrimSpace(command), err)
	case n != len(command):
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads the port line by line and hands every line to every
// subscriber. A subscriber whose backlog is full misses the line. Monitor
// returns nil once the port is exhausted or the mux has been closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the ctx select below.
	go func() {
		var err error
		defer func() {
			scanErr <- err
			close(lines)
		}()
		sc := bufio.NewScanner(s.port)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err = sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return s.endErr(<-scanErr)
			}
			if !s.broadcast(line) {
				return nil
			}
		}
	}
}

// endErr maps the scanner's final error: reads failing because Close shut
// the port are not an error.
func (s *SerialMux[T]) endErr(err error) error {
	if err == nil || s.isClosing() {
		return nil
	}
	return fmt.Errorf("read serial port: %w", err)
}

// broadcast reports false once the mux is closed.
func (s *SerialMux[T]) broadcast(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.lines++
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.dropped++
		}
	}
	return true
}

func (s *SerialMux[T]) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stats returns the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Lines: s.lines, Dropped: s.dropped, Subscribers: len(s.subs)}
}

// Close closes every subscriber channel and then the port. A second Close
// returns ErrClosed.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial/tail", "live tail of gateway serial lines", s.tailHandler)
	debug.HandleFunc("serial/stats", "gateway line counters", s.statsHandler)
	debug.HandleSilentFunc("serial/send", s.sendHandler)
}

func (s *SerialMux[T]) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to serial port", command)
}

func (s *SerialMux[T]) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Stats())
}

// tailHandler streams gateway lines as server-sent events until the client
// goes away or the mux closes.
func (s *SerialMux[T]) tailHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
