package link

import (
	"time"

	"go.bug.st/serial"
)

// realPort adapts go.bug.st/serial's serial.Port to the Port interface.
// serial.Port already exposes SetReadTimeout under the same name and
// signature; the explicit method below only forwards to it.
type realPort struct {
	serial.Port
}

// SetReadTimeout implements Port in terms of the underlying serial.Port.
func (p *realPort) SetReadTimeout(timeout time.Duration) error {
	return p.Port.SetReadTimeout(timeout)
}

// OpenFactory is the production PortFactory, backed by go.bug.st/serial.
type OpenFactory struct{}

// Open implements PortFactory by opening a real OS serial device at
// 8 data bits, no parity, 1 stop bit, no flow control.
func (OpenFactory) Open(path string, mode Mode) (Port, error) {
	sm := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: fixedDataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, sm)
	if err != nil {
		return nil, err
	}
	return &realPort{Port: p}, nil
}
