package link

import "errors"

// Error taxonomy for SerialLink. Wrapped with call-site context via
// fmt.Errorf("...: %w", err) and checked with errors.Is.
var (
	// ErrLinkOpen is returned when the OS refuses to open the port.
	ErrLinkOpen = errors.New("link: failed to open port")
	// ErrNotConnected means the operation needs an open link but the
	// link is closed, was never opened, or was lost mid-operation.
	ErrNotConnected = errors.New("link: not connected")
	// ErrNotConfigured means Reopen was called before any successful
	// Open.
	ErrNotConfigured = errors.New("link: reopen before first open")
	// ErrInvalidState means the caller attempted an operation that
	// conflicts with the link's current mode, e.g. ReadLine while the
	// listener is active.
	ErrInvalidState = errors.New("link: invalid state")
	// ErrIO wraps a transport-level failure during write or read that
	// isn't a lost-port condition.
	ErrIO = errors.New("link: io error")
	// ErrPortGone signals that the underlying OS handle has been lost
	// (device unplugged, etc.); a Port implementation can return this to
	// make SerialLink self-close rather than retry.
	ErrPortGone = errors.New("link: port gone")
)
