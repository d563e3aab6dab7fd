package link

import "fmt"

// DefaultBaudRate is used when a caller doesn't specify one.
const DefaultBaudRate = 500000

// DefaultReadTimeout is the read deadline treadmill.New applies when the
// caller passes a non-positive timeout.
const DefaultReadTimeout = 5000 // milliseconds

// Options describes the parameters SerialLink.Open needs. Normalize
// applies the default baud rate and rejects a negative one; data bits,
// parity, and stop bits are not exposed here because the wire protocol
// fixes them at 8-N-1.
type Options struct {
	BaudRate int
}

// Normalize validates o and fills in the default baud rate when unset.
func (o Options) Normalize() (Options, error) {
	opts := o
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.BaudRate < 0 {
		return opts, fmt.Errorf("invalid baud rate %d: must be positive", opts.BaudRate)
	}
	return opts, nil
}

// Mode converts o into the fixed-8-N-1 Mode SerialLink opens a port
// with.
func (o Options) Mode() (Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return Mode{}, err
	}
	return Mode{BaudRate: opts.BaudRate}, nil
}
