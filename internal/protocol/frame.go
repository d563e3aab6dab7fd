package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// TelemetryFrame is a decoded snapshot of device state, one per "TEL,..."
// line. Field order and types match the wire table: u32 timestamp, four
// float32 RPM values, and four booleans encoded as "1"/not-"1".
type TelemetryFrame struct {
	TimestampMs      uint32
	TargetRPMLeft    float32
	ActualRPMLeft    float32
	TargetRPMRight   float32
	ActualRPMRight   float32
	DriverLeftHealthy  bool
	DriverRightHealthy bool
	EmergencyStop      bool
	ProfileActive      bool
}

// DecodeError describes why a line that looked like telemetry could not
// be fully decoded. It is non-fatal: callers count and log it, the run
// session continues.
type DecodeError struct {
	Line   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed telemetry frame %q: %s", e.Line, e.Reason)
}

// IsTelemetry reports whether line carries a telemetry frame, per the
// wire format's "TEL," prefix.
func IsTelemetry(line string) bool {
	return strings.HasPrefix(line, TelemetryPrefix)
}

// IsInfo reports whether line is an informational line the core ignores.
func IsInfo(line string) bool {
	return strings.HasPrefix(line, InfoPrefix)
}

// DecodeFrame parses a "TEL,..." line into a TelemetryFrame. It requires
// at least TelemetryFieldCount comma-separated fields (the tag plus nine
// values); any fields beyond that are ignored. A malformed line (too few
// fields, or a field that fails to parse) returns a *DecodeError.
func DecodeFrame(line string) (TelemetryFrame, error) {
	fields := strings.Split(line, ",")
	if len(fields) < TelemetryFieldCount {
		return TelemetryFrame{}, &DecodeError{
			Line:   line,
			Reason: fmt.Sprintf("got %d fields, want at least %d", len(fields), TelemetryFieldCount),
		}
	}

	ts, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return TelemetryFrame{}, &DecodeError{Line: line, Reason: "timestamp: " + err.Error()}
	}

	targetLeft, err := parseFloat32(fields[2])
	if err != nil {
		return TelemetryFrame{}, &DecodeError{Line: line, Reason: "target_rpm_left: " + err.Error()}
	}
	actualLeft, err := parseFloat32(fields[3])
	if err != nil {
		return TelemetryFrame{}, &DecodeError{Line: line, Reason: "actual_rpm_left: " + err.Error()}
	}
	targetRight, err := parseFloat32(fields[4])
	if err != nil {
		return TelemetryFrame{}, &DecodeError{Line: line, Reason: "target_rpm_right: " + err.Error()}
	}
	actualRight, err := parseFloat32(fields[5])
	if err != nil {
		return TelemetryFrame{}, &DecodeError{Line: line, Reason: "actual_rpm_right: " + err.Error()}
	}

	return TelemetryFrame{
		TimestampMs:        uint32(ts),
		TargetRPMLeft:      targetLeft,
		ActualRPMLeft:      actualLeft,
		TargetRPMRight:     targetRight,
		ActualRPMRight:     actualRight,
		DriverLeftHealthy:  fields[6] == "1",
		DriverRightHealthy: fields[7] == "1",
		EmergencyStop:      fields[8] == "1",
		ProfileActive:      fields[9] == "1",
	}, nil
}

func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}
