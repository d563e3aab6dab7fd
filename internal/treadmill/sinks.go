package treadmill

import "github.com/trailhead-robotics/treadmillctl/internal/protocol"

// StatusSink receives a terse, human-readable line for every protocol
// phase transition, for entry-check and handshake-response failures,
// for heartbeat failures, and for completion ("FINISHED"). A write or
// read error from the link during the handshake is returned to the
// caller without a status line. Messages from RunTreadmill and
// StopTreadmill are delivered on the caller's goroutine; heartbeat and
// completion messages on the event loop's worker goroutine (the same
// one telemetry dispatch runs on). It must not block.
type StatusSink func(message string)

// TelemetrySink receives every successfully decoded telemetry frame, in
// arrival order. Like StatusSink, it runs on the event loop and must not
// block.
type TelemetrySink func(frame protocol.TelemetryFrame)
