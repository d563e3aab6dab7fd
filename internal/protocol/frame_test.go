package protocol

import "testing"

func TestDecodeFrame_Happy(t *testing.T) {
	line := "TEL,100,10,10,10,10,1,1,0,1"
	frame, err := DecodeFrame(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := TelemetryFrame{
		TimestampMs:        100,
		TargetRPMLeft:      10,
		ActualRPMLeft:      10,
		TargetRPMRight:     10,
		ActualRPMRight:     10,
		DriverLeftHealthy:  true,
		DriverRightHealthy: true,
		EmergencyStop:      false,
		ProfileActive:      true,
	}
	if frame != want {
		t.Errorf("DecodeFrame(%q) = %+v, want %+v", line, frame, want)
	}
}

func TestDecodeFrame_ProfileInactive(t *testing.T) {
	frame, err := DecodeFrame("TEL,200,10,10,10,10,1,1,0,0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.ProfileActive {
		t.Error("expected ProfileActive = false")
	}
}

func TestDecodeFrame_WrongFieldCount(t *testing.T) {
	// 9 fields total (one short of TelemetryFieldCount).
	_, err := DecodeFrame("TEL,50,0,0,0,0,1,1,0")
	if err == nil {
		t.Fatal("expected decode error for short frame")
	}
	if _, ok := err.(*DecodeError); !ok {
		t.Errorf("expected *DecodeError, got %T", err)
	}
}

func TestDecodeFrame_ExtraFieldsIgnored(t *testing.T) {
	frame, err := DecodeFrame("TEL,100,10,10,10,10,1,1,0,1,extra,more")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.TimestampMs != 100 {
		t.Errorf("TimestampMs = %d, want 100", frame.TimestampMs)
	}
}

func TestDecodeFrame_UnparseableNumber(t *testing.T) {
	_, err := DecodeFrame("TEL,not-a-number,10,10,10,10,1,1,0,1")
	if err == nil {
		t.Fatal("expected decode error for unparseable timestamp")
	}
}

func TestIsTelemetry(t *testing.T) {
	cases := map[string]bool{
		"TEL,1,2,3":   true,
		"INFO,hello":  false,
		"READY":       false,
		"":            false,
		"TELxyz":      false,
	}
	for line, want := range cases {
		if got := IsTelemetry(line); got != want {
			t.Errorf("IsTelemetry(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestIsInfo(t *testing.T) {
	if !IsInfo("INFO,boot") {
		t.Error("expected INFO, prefix to be classified as info")
	}
	if IsInfo("TEL,1") {
		t.Error("did not expect TEL, prefix to be classified as info")
	}
}
