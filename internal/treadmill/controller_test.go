package treadmill

import (
	"errors"
	"testing"
	"time"

	"github.com/trailhead-robotics/treadmillctl/internal/link"
	"github.com/trailhead-robotics/treadmillctl/internal/protocol"
)

func newTestController(t *testing.T) (*Controller, *link.TestablePort) {
	t.Helper()
	port := link.NewTestablePort()
	l := link.New(link.NewMockPortFactory(port))
	t.Cleanup(func() { l.EventLoop().Stop() })

	if err := l.Open("/dev/ttyFAKE", link.Options{BaudRate: 500000}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	c := New(l, 200*time.Millisecond)
	return c, port
}

// feedHandshake arranges for the standard initiateProtocol exchange
// (STOP_TM -> STOPPED, START_READ -> READY) to succeed.
func feedHandshake(port *link.TestablePort) {
	port.FeedLine(protocol.Stopped)
	port.FeedLine(protocol.Ready)
}

func TestRunTreadmillHappyPath(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready) // response to the one speed command
	port.FeedLine(protocol.Ack)   // response to END_READ
	port.FeedLine(protocol.Running)

	var statuses []string
	c.SetStatusSink(func(msg string) { statuses = append(statuses, msg) })

	if err := c.RunTreadmill([]string{"L:100 R:100 T:1000"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}
	if !c.IsHeartbeatActive() {
		t.Error("expected heartbeat active after a successful run")
	}
	if c.CurrentSessionID() == "" {
		t.Error("expected a session ID to be stamped")
	}

	found := false
	for _, s := range statuses {
		if s == "uploading command 1/1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an 'uploading command 1/1' status, got %v", statuses)
	}
}

func TestRunTreadmillRejectsEmptyCommands(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.RunTreadmill(nil); !errors.Is(err, ErrNoCommands) {
		t.Fatalf("expected ErrNoCommands, got %v", err)
	}
}

func TestRunTreadmillRejectsWhenNotConnected(t *testing.T) {
	port := link.NewTestablePort()
	l := link.New(link.NewMockPortFactory(port))
	defer l.EventLoop().Stop()
	c := New(l, time.Second)

	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRunTreadmillFailsWithoutReady(t *testing.T) {
	c, port := newTestController(t)
	port.FeedLine(protocol.Stopped)
	port.FeedLine(protocol.Err)

	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if c.IsHeartbeatActive() {
		t.Error("heartbeat must not start after a failed handshake")
	}
}

func TestRunTreadmillFailsOnCommandRejection(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Err) // command is rejected

	err := c.RunTreadmill([]string{"L:1 R:1 T:1"})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestLateArrivingTelemetryDuringUploadIsDiscarded(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine("TEL,50,0,0,0,0,1,1,0,1") // stray telemetry before the command's READY
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)

	var telemetryCalls int
	c.SetTelemetrySink(func(protocol.TelemetryFrame) { telemetryCalls++ })

	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}
	if telemetryCalls != 0 {
		t.Errorf("expected the stray TEL line to never reach the telemetry sink, got %d calls", telemetryCalls)
	}
}

func TestStopTreadmillHappyPath(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)
	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}

	port.FeedLine(protocol.Stopped)
	if err := c.StopTreadmill(); err != nil {
		t.Fatalf("StopTreadmill: %v", err)
	}
	if c.IsHeartbeatActive() {
		t.Error("expected heartbeat stopped after StopTreadmill")
	}
}

func TestStopTreadmillWithoutConfirmation(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)
	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}

	// No STOPPED response fed: read will time out.
	if err := c.StopTreadmill(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if c.IsHeartbeatActive() {
		t.Error("heartbeat must be torn down even when the stop isn't confirmed")
	}
}

func TestTelemetryCompletionStopsHeartbeatOnce(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)

	var finished int
	c.SetStatusSink(func(msg string) {
		if msg == "FINISHED" {
			finished++
		}
	})

	frames := make(chan protocol.TelemetryFrame, 4)
	c.SetTelemetrySink(func(f protocol.TelemetryFrame) { frames <- f })

	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}

	port.FeedLine("TEL,1,10,10,10,10,1,1,0,0") // profile_active = 0 -> completion
	port.FeedLine("TEL,2,10,10,10,10,1,1,0,0") // a second inactive frame must not double-fire

	for i := 0; i < 2; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for telemetry frame")
		}
	}

	// Give the completion CAS and FINISHED status time to propagate on
	// the event loop.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.IsHeartbeatActive() {
		time.Sleep(10 * time.Millisecond)
	}

	if c.IsHeartbeatActive() {
		t.Error("expected heartbeat to stop once the run completes")
	}
	if finished != 1 {
		t.Errorf("expected exactly one FINISHED status, got %d", finished)
	}
}

func TestMalformedTelemetryCountsDecodeError(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)
	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}

	port.FeedLine("TEL,too,few,fields")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.DecodeErrorCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if c.DecodeErrorCount() == 0 {
		t.Error("expected a decode error to be counted for a malformed telemetry line")
	}
}

func TestRecentTelemetryKeepsMostRecent(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)

	frames := make(chan protocol.TelemetryFrame, 8)
	c.SetTelemetrySink(func(f protocol.TelemetryFrame) { frames <- f })
	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}

	port.FeedLine("TEL,1,10,10,10,10,1,1,0,1")
	port.FeedLine("TEL,2,10,10,10,10,1,1,0,1")
	for i := 0; i < 2; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for telemetry frame")
		}
	}

	recent := c.RecentTelemetry()
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent frames, got %d", len(recent))
	}
	if recent[0].TimestampMs != 1 || recent[1].TimestampMs != 2 {
		t.Errorf("expected frames in arrival order, got %+v", recent)
	}
}

func TestDisconnectTearsDownHeartbeat(t *testing.T) {
	c, port := newTestController(t)
	feedHandshake(port)
	port.FeedLine(protocol.Ready)
	port.FeedLine(protocol.Ack)
	port.FeedLine(protocol.Running)
	if err := c.RunTreadmill([]string{"L:1 R:1 T:1"}); err != nil {
		t.Fatalf("RunTreadmill: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.IsHeartbeatActive() {
		t.Error("expected heartbeat stopped after Disconnect")
	}
	if c.IsConnected() {
		t.Error("expected link closed after Disconnect")
	}
}
