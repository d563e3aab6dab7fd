package treadmill

import "errors"

// Error taxonomy for Controller. Wrapped with call-site context via
// fmt.Errorf("...: %w", err) and checked with errors.Is.
var (
	// ErrPreconditions is the umbrella kind for every RunTreadmill entry
	// check: an unopened link, an empty command batch, or a double-start
	// while a session is already active. Callers that only care about
	// the general kind can check errors.Is(err, ErrPreconditions);
	// ErrNotConnected/ErrNoCommands/ErrAlreadyRunning are joined in
	// alongside it for callers that want the specific reason.
	ErrPreconditions = errors.New("treadmill: preconditions not met")
	// ErrNotConnected means an operation that needs an open link was
	// attempted while the link is closed.
	ErrNotConnected = errors.New("treadmill: not connected")
	// ErrNoCommands means RunTreadmill was called with an empty command
	// batch.
	ErrNoCommands = errors.New("treadmill: no speed commands provided")
	// ErrProtocol means the device responded with something other than
	// the token the current protocol phase required (or didn't respond
	// before the read deadline).
	ErrProtocol = errors.New("treadmill: protocol error")
	// ErrAlreadyRunning means RunTreadmill was called while a session is
	// already active.
	ErrAlreadyRunning = errors.New("treadmill: run already active")
)
