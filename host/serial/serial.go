// Package serial opens the USB CDC device a board enumerates as and
// adapts it to the io interfaces the protocol layer consumes.
package serial

import (
	"io"
)

// Port is a serial connection to a board.
// Two implementations exist:
// - Native serial (using github.com/tarm/serial)
// - In-memory pipes for tests
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores the rate; real UARTs use it.
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a configuration suitable for a CDC board.
// The read timeout keeps Read from blocking forever so the link's
// read loop can notice a Close.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}
