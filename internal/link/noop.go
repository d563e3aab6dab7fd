package link

import (
	"sync"
	"time"

	"github.com/trailhead-robotics/treadmillctl/internal/monitoring"
)

// NoopLink is a SerialLink stand-in used when no hardware is present
// (-dry-run). Open succeeds for any valid Options, Close always
// succeeds, and WriteLine succeeds whenever the link is open; ReadLine
// always times out and the listener, once started, never delivers a line. It
// lets the CLI and admin HTTP surface run end to end without a device.
type NoopLink struct {
	loop *Loop

	mu   sync.Mutex
	open bool

	listenMu  sync.Mutex
	listening bool
}

// NewNoop returns a closed NoopLink driving its own event loop.
func NewNoop() *NoopLink {
	return &NoopLink{loop: NewLoop()}
}

// EventLoop implements the same surface as SerialLink.
func (n *NoopLink) EventLoop() *Loop { return n.loop }

// ErrChan returns a channel that never fires; a dry-run link has no
// transport to fail.
func (n *NoopLink) ErrChan() <-chan error { return make(chan error) }

// Open marks the link open without touching any real device.
func (n *NoopLink) Open(portName string, opts Options) error {
	if _, err := opts.Normalize(); err != nil {
		return err
	}
	n.mu.Lock()
	n.open = true
	n.mu.Unlock()
	monitoring.Logf("link: dry-run open (no device)")
	return nil
}

// Close stops the listener, if running, and marks the link closed.
func (n *NoopLink) Close() error {
	n.StopListener()
	n.mu.Lock()
	n.open = false
	n.mu.Unlock()
	return nil
}

// Reopen is a no-op success while the link is open. On a closed
// NoopLink (never opened, or closed since) it fails with
// ErrNotConfigured and leaves the link closed.
func (n *NoopLink) Reopen() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return ErrNotConfigured
	}
	return nil
}

// IsOpen reports the dry-run link's open flag.
func (n *NoopLink) IsOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.open
}

// IsListening reports whether StartListener has been called without a
// matching StopListener.
func (n *NoopLink) IsListening() bool {
	n.listenMu.Lock()
	defer n.listenMu.Unlock()
	return n.listening
}

// WriteLine discards s and succeeds, as long as the link is open.
func (n *NoopLink) WriteLine(s string) error {
	if !n.IsOpen() {
		return ErrNotConnected
	}
	return nil
}

// ReadLine always times out: a dry-run link has no bytes to deliver.
func (n *NoopLink) ReadLine(timeout time.Duration) (string, bool, error) {
	if !n.IsOpen() {
		return "", false, ErrNotConnected
	}
	if n.IsListening() {
		return "", false, ErrInvalidState
	}
	time.Sleep(timeout)
	return "", false, nil
}

// StartListener marks the listener active. onLine is never invoked.
func (n *NoopLink) StartListener(onLine OnLine) error {
	if !n.IsOpen() {
		return ErrNotConnected
	}
	n.listenMu.Lock()
	defer n.listenMu.Unlock()
	if n.listening {
		return ErrInvalidState
	}
	n.listening = true
	return nil
}

// StopListener clears the listener flag. Idempotent.
func (n *NoopLink) StopListener() {
	n.listenMu.Lock()
	n.listening = false
	n.listenMu.Unlock()
}
