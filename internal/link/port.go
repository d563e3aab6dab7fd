package link

import (
	"io"
	"time"
)

// Port is the minimal interface SerialLink needs from a serial
// connection. This abstraction enables unit testing without real
// hardware: production code satisfies it with go.bug.st/serial's
// serial.Port, tests satisfy it with TestablePort.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout arms (or re-arms) the port's read deadline. A Read
	// call made after the deadline elapses with no data returns (0, nil)
	// rather than blocking forever or returning an error.
	SetReadTimeout(timeout time.Duration) error
}

// PortFactory opens a Port given a path and mode. Production code uses
// OpenFactory (go.bug.st/serial); tests substitute a factory that hands
// back a pre-wired TestablePort.
type PortFactory interface {
	Open(path string, mode Mode) (Port, error)
}

// Mode describes the serial parameters SerialLink opens a port with.
// Only BaudRate is caller-configurable: data bits, parity, and stop bits
// are fixed at 8-N-1, matching the firmware's own UART configuration.
type Mode struct {
	BaudRate int
}

const (
	fixedDataBits = 8
	fixedStopBits = 1
)
