package link

import "time"

// Link is the surface Controller needs from a transport: both SerialLink
// and NoopLink (-dry-run) implement it.
type Link interface {
	EventLoop() *Loop
	ErrChan() <-chan error

	Open(portName string, opts Options) error
	Close() error
	Reopen() error
	IsOpen() bool
	IsListening() bool

	WriteLine(s string) error
	ReadLine(timeout time.Duration) (line string, ok bool, err error)

	StartListener(onLine OnLine) error
	StopListener()
}

var (
	_ Link = (*SerialLink)(nil)
	_ Link = (*NoopLink)(nil)
)
