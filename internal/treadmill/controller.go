// Package treadmill implements the upload/run protocol state machine
// that drives a dual-motor treadmill over a link.Link: uploading a
// batch of motor profile commands, starting execution, maintaining a
// safety heartbeat while the profile runs, and detecting completion
// from the telemetry stream.
package treadmill

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trailhead-robotics/treadmillctl/internal/link"
	"github.com/trailhead-robotics/treadmillctl/internal/monitoring"
	"github.com/trailhead-robotics/treadmillctl/internal/protocol"
)

// HeartbeatInterval is how often a HEARTBEAT token is sent to the device
// while a run session is active.
const HeartbeatInterval = 500 * time.Millisecond

// telemetryRingSize is how many of the most recent decoded telemetry
// frames Controller retains for RecentTelemetry.
const telemetryRingSize = 64

// Controller drives one treadmill over one link.Link. A Controller
// without an open link is inert: every operation that needs the device
// returns ErrNotConnected.
type Controller struct {
	link        link.Link
	readTimeout time.Duration

	statusMu    sync.Mutex
	statusSink  StatusSink
	telemetryMu sync.Mutex
	telemetrySink TelemetrySink

	runActive       atomic.Bool
	heartbeatActive atomic.Bool

	heartbeatMu    sync.Mutex
	heartbeatTimer *time.Timer

	sessionMu sync.Mutex
	sessionID string

	ringMu    sync.Mutex
	ring      [telemetryRingSize]protocol.TelemetryFrame
	ringHead  int
	ringCount int

	decodeErrors atomic.Uint64
}

// New returns a Controller driving l, with readTimeout applied to every
// synchronous handshake read. A zero readTimeout uses
// link.DefaultReadTimeout.
func New(l link.Link, readTimeout time.Duration) *Controller {
	if readTimeout <= 0 {
		readTimeout = time.Duration(link.DefaultReadTimeout) * time.Millisecond
	}
	return &Controller{link: l, readTimeout: readTimeout}
}

// SetStatusSink installs the sink future status messages are sent to.
// Passing nil disables status reporting.
func (c *Controller) SetStatusSink(sink StatusSink) {
	c.statusMu.Lock()
	c.statusSink = sink
	c.statusMu.Unlock()
}

// SetTelemetrySink installs the sink future decoded telemetry frames are
// sent to. Passing nil disables telemetry reporting.
func (c *Controller) SetTelemetrySink(sink TelemetrySink) {
	c.telemetryMu.Lock()
	c.telemetrySink = sink
	c.telemetryMu.Unlock()
}

// Open opens the underlying link at portName with opts.
func (c *Controller) Open(portName string, opts link.Options) error {
	return c.link.Open(portName, opts)
}

// IsConnected reports whether the underlying link currently owns a
// port.
func (c *Controller) IsConnected() bool { return c.link.IsOpen() }

// IsHeartbeatActive reports whether the safety heartbeat is currently
// armed.
func (c *Controller) IsHeartbeatActive() bool { return c.heartbeatActive.Load() }

// CurrentSessionID returns the UUID stamped on the most recently started
// run session, or "" if none has started yet.
func (c *Controller) CurrentSessionID() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.sessionID
}

// DecodeErrorCount returns the running count of telemetry lines that
// looked like a "TEL," frame but failed to parse.
func (c *Controller) DecodeErrorCount() uint64 { return c.decodeErrors.Load() }

// RecentTelemetry returns up to the last telemetryRingSize decoded
// frames, oldest first.
func (c *Controller) RecentTelemetry() []protocol.TelemetryFrame {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	out := make([]protocol.TelemetryFrame, c.ringCount)
	start := (c.ringHead - c.ringCount + telemetryRingSize) % telemetryRingSize
	for i := 0; i < c.ringCount; i++ {
		out[i] = c.ring[(start+i)%telemetryRingSize]
	}
	return out
}

// RunTreadmill runs the full upload/run protocol: handshake, upload
// every line in commands, finalize, and start execution. On success a
// new session is active: the listener is running, telemetry frames
// flow to the telemetry sink, and the safety heartbeat is armed. On any
// failure no session is left active and the link is otherwise
// unaffected (the caller may retry).
func (c *Controller) RunTreadmill(commands []string) error {
	if !c.IsConnected() {
		c.logError("treadmill not connected; commands not sent", "", false)
		c.updateStatus("ERROR: treadmill not connected")
		return errors.Join(ErrPreconditions, ErrNotConnected)
	}
	if c.runActive.Load() {
		c.updateStatus("ERROR: run already active")
		return errors.Join(ErrPreconditions, ErrAlreadyRunning)
	}
	if len(commands) == 0 {
		c.logError("no speed commands provided", "", false)
		c.updateStatus("ERROR: no speed commands provided")
		return errors.Join(ErrPreconditions, ErrNoCommands)
	}

	if err := c.initiateProtocol(); err != nil {
		return err
	}
	if err := c.uploadCommands(commands); err != nil {
		return err
	}
	if err := c.finalizeUpload(); err != nil {
		return err
	}
	if err := c.startExecution(); err != nil {
		return err
	}

	c.sessionMu.Lock()
	c.sessionID = uuid.New().String()
	c.sessionMu.Unlock()

	c.ringMu.Lock()
	c.ringHead, c.ringCount = 0, 0
	c.ringMu.Unlock()
	c.decodeErrors.Store(0)

	// Mark the run active before the listener starts, so a telemetry
	// line that arrives immediately sees a consistent state.
	c.runActive.Store(true)

	if err := c.link.StartListener(c.handleLine); err != nil {
		c.runActive.Store(false)
		return fmt.Errorf("%w: start listener: %v", ErrProtocol, err)
	}
	c.startHeartbeat()
	return nil
}

// StopTreadmill sends the stop command and waits for the device to
// confirm. The listener and heartbeat are torn down regardless of
// whether the device acknowledges in time, so the controller never gets
// stuck believing a session is active after the caller asked to stop.
func (c *Controller) StopTreadmill() error {
	if !c.IsConnected() {
		c.logError("treadmill not connected; cannot send stop command", "", false)
		return ErrNotConnected
	}

	c.runActive.Store(false)
	c.link.StopListener()
	c.updateStatus("stopping treadmill")

	if err := c.sendCommand(protocol.StopTreadmill); err != nil {
		c.stopHeartbeat()
		return err
	}
	resp, ok, err := c.readResponse()
	c.stopHeartbeat()
	if err != nil || !ok || resp != protocol.Stopped {
		c.logError("failed to receive stop confirmation", resp, ok)
		c.updateStatus("ERROR: failed to stop treadmill")
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, protocol.Stopped, resp)
	}

	c.updateStatus("treadmill stopped successfully")
	return nil
}

// Disconnect tears down the heartbeat and closes the underlying link.
func (c *Controller) Disconnect() error {
	c.stopHeartbeat()
	c.runActive.Store(false)
	return c.link.Close()
}

// Reconnect tears down the heartbeat and reopens the link with its last
// parameters.
func (c *Controller) Reconnect() error {
	c.stopHeartbeat()
	c.runActive.Store(false)
	return c.link.Reopen()
}

// initiateProtocol forces the device into Idle (sending STOP_TM and
// discarding whatever it says back, up to a handful of attempts, to
// clear stale boot banners or leftover state) and then performs the
// START_READ handshake.
func (c *Controller) initiateProtocol() error {
	c.updateStatus("initiating communication with treadmill")

	if err := c.sendCommand(protocol.StopTreadmill); err != nil {
		return err
	}
	for attempts := 5; attempts > 0; attempts-- {
		resp, ok, err := c.readResponse()
		if err != nil {
			return err
		}
		if ok && resp == protocol.Stopped {
			break
		}
	}

	if err := c.sendCommand(protocol.StartRead); err != nil {
		return err
	}
	resp, ok, err := c.awaitProtocolResponse()
	if err != nil {
		return err
	}
	if !ok || resp != protocol.Ready {
		c.logError("failed to receive READY response", resp, ok)
		c.updateStatus("ERROR: treadmill not ready")
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, protocol.Ready, resp)
	}

	c.updateStatus("treadmill ready - sending commands")
	return nil
}

// uploadCommands sends each command line in order, requiring a READY
// reply after every one before sending the next.
func (c *Controller) uploadCommands(commands []string) error {
	n := len(commands)
	for i, cmd := range commands {
		if err := c.sendCommand(cmd); err != nil {
			return err
		}
		c.updateStatus(fmt.Sprintf("uploading command %d/%d", i+1, n))

		resp, ok, err := c.awaitProtocolResponse()
		if err != nil {
			return err
		}
		if !ok || resp != protocol.Ready {
			c.logError(fmt.Sprintf("failed to receive READY for command %d", i+1), resp, ok)
			c.updateStatus(fmt.Sprintf("ERROR: command %d failed", i+1))
			return fmt.Errorf("%w: command %d: expected %q, got %q", ErrProtocol, i+1, protocol.Ready, resp)
		}
	}
	return nil
}

// finalizeUpload sends END_READ and requires an ACK reply.
func (c *Controller) finalizeUpload() error {
	if err := c.sendCommand(protocol.EndRead); err != nil {
		return err
	}
	resp, ok, err := c.awaitProtocolResponse()
	if err != nil {
		return err
	}
	if !ok || resp != protocol.Ack {
		c.logError("failed to receive ACK for END_READ", resp, ok)
		c.updateStatus("ERROR: upload not acknowledged")
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, protocol.Ack, resp)
	}
	return nil
}

// startExecution sends RUN_TM (with its required trailing space) and
// requires a RUNNING reply.
func (c *Controller) startExecution() error {
	c.updateStatus("all commands sent - starting treadmill")

	if err := c.sendCommand(protocol.RunTreadmill); err != nil {
		return err
	}
	resp, ok, err := c.awaitProtocolResponse()
	if err != nil {
		return err
	}
	if !ok || resp != protocol.Running {
		c.logError("failed to receive confirmation for RUN command", resp, ok)
		c.updateStatus("ERROR: failed to start treadmill")
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, protocol.Running, resp)
	}

	c.updateStatus("treadmill running successfully")
	return nil
}

func (c *Controller) startHeartbeat() {
	if !c.IsConnected() || !c.link.IsListening() {
		monitoring.Logf("treadmill: cannot start heartbeat: not connected or listener not running")
		return
	}
	c.heartbeatActive.Store(true)
	c.scheduleHeartbeat()
	monitoring.Logf("treadmill: heartbeat started (%s interval)", HeartbeatInterval)
}

func (c *Controller) stopHeartbeat() {
	if !c.heartbeatActive.CompareAndSwap(true, false) {
		return
	}
	c.heartbeatMu.Lock()
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	c.heartbeatMu.Unlock()
	monitoring.Logf("treadmill: heartbeat stopped")
}

func (c *Controller) scheduleHeartbeat() {
	if !c.heartbeatActive.Load() || !c.IsConnected() {
		return
	}
	timer := c.link.EventLoop().Schedule(HeartbeatInterval, c.tickHeartbeat)
	c.heartbeatMu.Lock()
	c.heartbeatTimer = timer
	c.heartbeatMu.Unlock()
}

func (c *Controller) tickHeartbeat() {
	if !c.heartbeatActive.Load() || !c.IsConnected() {
		return
	}
	if err := c.link.WriteLine(protocol.Heartbeat); err != nil {
		monitoring.Logf("treadmill: error sending heartbeat: %v", err)
		c.stopHeartbeat()
		c.updateStatus("ERROR: heartbeat failed")
		return
	}
	c.scheduleHeartbeat()
}

// handleLine is the listener's OnLine callback: it runs on the event
// loop, so it never overlaps a heartbeat tick.
func (c *Controller) handleLine(line string) {
	switch {
	case protocol.IsTelemetry(line):
		c.handleTelemetryLine(line)
	case protocol.IsInfo(line):
		monitoring.Logf("treadmill: info: %s", line)
	default:
		// Unsolicited tokens (including a device-side HEARTBEAT echo)
		// carry no information the controller acts on.
		monitoring.Logf("treadmill: unrecognized line: %s", line)
	}
}

func (c *Controller) handleTelemetryLine(line string) {
	frame, err := protocol.DecodeFrame(line)
	if err != nil {
		c.decodeErrors.Add(1)
		monitoring.Logf("treadmill: %v", err)
		return
	}

	c.ringMu.Lock()
	c.ring[c.ringHead] = frame
	c.ringHead = (c.ringHead + 1) % telemetryRingSize
	if c.ringCount < telemetryRingSize {
		c.ringCount++
	}
	c.ringMu.Unlock()

	if !frame.ProfileActive && c.runActive.CompareAndSwap(true, false) {
		c.stopHeartbeat()
		c.updateStatus("run completed successfully")
		c.updateStatus("FINISHED")
	}

	c.telemetryMu.Lock()
	sink := c.telemetrySink
	c.telemetryMu.Unlock()
	if sink != nil {
		sink(frame)
	}
}

func (c *Controller) sendCommand(line string) error {
	if err := c.link.WriteLine(line); err != nil {
		return fmt.Errorf("%w: send %q: %v", ErrProtocol, line, err)
	}
	return nil
}

func (c *Controller) readResponse() (line string, ok bool, err error) {
	line, ok, err = c.link.ReadLine(c.readTimeout)
	if err != nil {
		return "", false, fmt.Errorf("%w: read response: %v", ErrProtocol, err)
	}
	return line, ok, nil
}

// awaitProtocolResponse reads lines until one is neither a telemetry nor
// an info line, bounded overall by readTimeout (not restarted per
// discarded line). Telemetry arriving during a handshake wait must
// never satisfy it and must never reach the telemetry sink, so it's
// dropped here rather than passed to handleLine.
func (c *Controller) awaitProtocolResponse() (line string, ok bool, err error) {
	deadline := time.Now().Add(c.readTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		line, ok, err = c.link.ReadLine(remaining)
		if err != nil {
			return "", false, fmt.Errorf("%w: read response: %v", ErrProtocol, err)
		}
		if !ok {
			return "", false, nil
		}
		if protocol.IsTelemetry(line) || protocol.IsInfo(line) {
			continue
		}
		return line, true, nil
	}
}

func (c *Controller) updateStatus(message string) {
	c.statusMu.Lock()
	sink := c.statusSink
	c.statusMu.Unlock()
	if sink != nil {
		sink(message)
	}
}

func (c *Controller) logError(message, response string, hadResponse bool) {
	full := message
	if hadResponse {
		full += ". Got: " + response
	} else {
		full += ". Got: [timeout]"
	}
	monitoring.Logf("treadmill: %s", full)
}
