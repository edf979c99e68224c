package serialmux

import (
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"
)

// SerialPorter is the part of a serial port the mux reads and writes.
// PipePort implements it for tests and -dev mode.
type SerialPorter interface {
	io.ReadWriteCloser
}

// NewRealSerialMux opens the gateway at path. Bytes the driver buffered
// before the port was opened are discarded so the first line subscribers
// see was sent after startup.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("gateway port %s: %w", path, err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open gateway port %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush gateway port %s: %w", path, err)
	}

	log.Printf("serialmux: opened %s (%s)", path, opts)
	return NewSerialMux(port), nil
}
