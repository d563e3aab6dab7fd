// Package link provides SerialLink: a line-oriented, timeout-bounded
// transport over a serial port, plus the single-threaded event loop the
// upper-layer controller schedules its heartbeat on. It owns the port
// exclusively; no other component touches it.
package link

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/trailhead-robotics/treadmillctl/internal/monitoring"
)

// listenerPollInterval bounds how long a single Read call inside the
// listener loop may block before it re-checks whether StopListener has
// been requested. It is independent of the caller-facing ReadLine
// timeout.
const listenerPollInterval = 200 * time.Millisecond

// OnLine is invoked once per complete line received while the listener
// is active. It runs on the event loop's worker goroutine and must not
// block.
type OnLine func(line string)

// SerialLink owns a single serial endpoint and moves line-delimited text
// in and out of it. Exactly one of {ReadLine, the listener} may be
// active at a time.
type SerialLink struct {
	factory PortFactory
	loop    *Loop

	mu          sync.Mutex
	port        Port
	portName    string
	lastOpts    Options
	everOpened  bool

	listenMu     sync.Mutex
	listening    bool
	stopListener chan struct{}
	listenerDone chan struct{}

	errOnce sync.Once
	errCh   chan error
}

// New creates a closed SerialLink backed by factory, driving its own
// event loop. Callers running several links share no state between
// them; each gets its own Loop.
func New(factory PortFactory) *SerialLink {
	return &SerialLink{
		factory: factory,
		loop:    NewLoop(),
		errCh:   make(chan error, 1),
	}
}

// EventLoop exposes the executor the listener and the controller's
// heartbeat both run on.
func (l *SerialLink) EventLoop() *Loop { return l.loop }

// ErrChan returns a one-shot channel on which a listener failure (other
// than an intentional stop) is reported. Reading it is optional; it
// never blocks a second send since it is only ever written to once.
func (l *SerialLink) ErrChan() <-chan error { return l.errCh }

// Open opens portName at the given baud rate with 8 data bits, no
// parity, 1 stop bit, no flow control. Read timeouts are not part of
// opts: each ReadLine call takes its own. On failure no new port is
// owned and the link's existing state is left unchanged, so a closed
// link stays closed.
func (l *SerialLink) Open(portName string, opts Options) error {
	mode, err := opts.Mode()
	if err != nil {
		return err
	}

	port, err := l.factory.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLinkOpen, portName, err)
	}

	l.mu.Lock()
	l.port = port
	l.portName = portName
	l.lastOpts = opts
	l.everOpened = true
	l.mu.Unlock()

	monitoring.Logf("link: opened %s", portName)
	return nil
}

// Close stops the listener if running, releases the port, and is safe
// to call multiple times or on a link that was never opened.
func (l *SerialLink) Close() error {
	l.StopListener()

	l.mu.Lock()
	port := l.port
	l.port = nil
	l.mu.Unlock()

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	monitoring.Logf("link: closed")
	return nil
}

// Reopen re-applies the parameters from the last successful Open. It
// fails with ErrNotConfigured if Open has never succeeded.
func (l *SerialLink) Reopen() error {
	l.mu.Lock()
	if !l.everOpened {
		l.mu.Unlock()
		return ErrNotConfigured
	}
	portName, opts := l.portName, l.lastOpts
	l.mu.Unlock()

	if err := l.Close(); err != nil {
		return err
	}
	return l.Open(portName, opts)
}

// IsOpen reports whether the link currently owns a port.
func (l *SerialLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// IsListening reports whether the async listener is currently active.
func (l *SerialLink) IsListening() bool {
	l.listenMu.Lock()
	defer l.listenMu.Unlock()
	return l.listening
}

func (l *SerialLink) currentPort() Port {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// selfClose releases the port without attempting to stop the listener
// again (used when the transport itself reports the port is gone, to
// avoid recursing through Close -> StopListener -> reader goroutine).
func (l *SerialLink) selfClose() {
	l.mu.Lock()
	port := l.port
	l.port = nil
	l.mu.Unlock()
	if port != nil {
		_ = port.Close()
	}
	monitoring.Logf("link: port reported gone, self-closed")
}

// WriteLine appends a single LF and transmits s atomically with respect
// to other writers.
func (l *SerialLink) WriteLine(s string) error {
	port := l.currentPort()
	if port == nil {
		return ErrNotConnected
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check under the lock: another goroutine may have closed the
	// link between currentPort() and here.
	if l.port == nil {
		return ErrNotConnected
	}

	data := []byte(s + "\n")
	for written := 0; written < len(data); {
		n, err := l.port.Write(data[written:])
		if err != nil {
			return fmt.Errorf("%w: write: %v", ErrIO, err)
		}
		written += n
	}
	return nil
}

// ReadLine synchronously reads bytes until LF, strips a trailing CR, and
// returns the line. It returns ok=false (no error) on timeout. It must
// not be called while the listener is active.
func (l *SerialLink) ReadLine(timeout time.Duration) (line string, ok bool, err error) {
	if l.IsListening() {
		return "", false, ErrInvalidState
	}

	port := l.currentPort()
	if port == nil {
		return "", false, ErrNotConnected
	}

	return readLineDeadline(port, timeout, func() { l.selfClose() })
}

// readLineDeadline accumulates bytes from port until a newline or the
// deadline; onGone is invoked if the transport reports the port is
// gone. It races the read against an overall deadline by re-arming the
// port's own read timeout in slices no larger than listenerPollInterval,
// so a caller polling a stop signal elsewhere still gets timely control
// back.
func readLineDeadline(port Port, timeout time.Duration, onGone func()) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	var buf []byte
	one := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		slice := remaining
		if slice > listenerPollInterval {
			slice = listenerPollInterval
		}
		if err := port.SetReadTimeout(slice); err != nil {
			return "", false, fmt.Errorf("%w: set read timeout: %v", ErrIO, err)
		}

		n, err := port.Read(one)
		if err != nil {
			if isPortGone(err) {
				onGone()
				return "", false, ErrNotConnected
			}
			return "", false, fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if n == 0 {
			continue // this slice's deadline elapsed with no data; loop re-checks the overall deadline
		}

		if one[0] == '\n' {
			return strings.TrimSuffix(string(buf), "\r"), true, nil
		}
		buf = append(buf, one[0])
	}
}

// isPortGone reports whether err indicates the underlying OS handle is no
// longer usable, as opposed to a transient read error the link can
// recover from on the next call. io.EOF is what most platforms surface
// when a USB-serial adapter is unplugged mid-read; ErrPortGone lets a
// Port implementation (including TestablePort) signal the same thing
// explicitly.
func isPortGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrPortGone)
}
