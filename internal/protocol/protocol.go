// Package protocol defines the wire vocabulary and telemetry frame format
// spoken between the host and the treadmill's motor controller over a
// line-oriented serial link. Every line in either direction is ASCII,
// terminated by LF; a CR immediately before the LF is tolerated on input
// and never emitted on output.
package protocol

// Host-to-device tokens. Every outbound line is exactly one of these,
// or a MotorCommand line (format validated by an external collaborator;
// neither this package nor the controller checks command lines, so an
// empty line or one with an embedded newline is sent as given).
const (
	StartRead = "START_READ"
	EndRead   = "END_READ"
	// RunTreadmill carries a trailing space, preserved verbatim on the
	// wire: the firmware parses "RUN_TM" and "RUN_TM " differently.
	RunTreadmill = "RUN_TM "
	StopTreadmill = "STOP_TM"
	Heartbeat    = "HEARTBEAT"
)

// Device-to-host tokens.
const (
	Ready   = "READY"
	Ack     = "ACK"
	Running = "RUNNING"
	Stopped = "STOPPED"
	Err     = "ERR"
)

// Line prefixes for multi-field device-to-host lines.
const (
	TelemetryPrefix = "TEL,"
	InfoPrefix      = "INFO,"
)

// TelemetryFieldCount is the minimum number of comma-separated fields
// (including the leading "TEL" tag) a telemetry line must carry to be
// decodable. Extra trailing fields are ignored.
const TelemetryFieldCount = 10
