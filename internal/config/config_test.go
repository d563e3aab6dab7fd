package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyConfigHasNilFields(t *testing.T) {
	cfg := Empty()
	if cfg.Port != nil || cfg.BaudRate != nil || cfg.ReadTimeout != nil || cfg.AdminListen != nil || cfg.AdminAllowRawWrite != nil {
		t.Error("expected every field nil in an empty config")
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Empty().Normalize()

	if cfg.GetBaudRate() != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", cfg.GetBaudRate(), DefaultBaudRate)
	}
	if cfg.GetReadTimeout() != DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", cfg.GetReadTimeout(), DefaultReadTimeout)
	}
	if cfg.GetAdminListen() != DefaultAdminListen {
		t.Errorf("AdminListen = %q, want %q", cfg.GetAdminListen(), DefaultAdminListen)
	}
	if cfg.GetAdminAllowRawWrite() {
		t.Error("expected AdminAllowRawWrite to default to false")
	}
}

func TestNormalizePreservesSetFields(t *testing.T) {
	cfg := &Config{BaudRate: ptrInt(9600)}
	out := cfg.Normalize()
	if out.GetBaudRate() != 9600 {
		t.Errorf("BaudRate = %d, want 9600", out.GetBaudRate())
	}
	if out.GetReadTimeout() != DefaultReadTimeout {
		t.Errorf("expected ReadTimeout to still default, got %v", out.GetReadTimeout())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative baud rate", Config{BaudRate: ptrInt(-1)}},
		{"zero baud rate", Config{BaudRate: ptrInt(0)}},
		{"unparseable read timeout", Config{ReadTimeout: ptrString("not-a-duration")}},
		{"zero read timeout", Config{ReadTimeout: ptrString("0s")}},
		{"empty port", Config{Port: ptrString("")}},
		{"empty admin listen", Config{AdminListen: ptrString("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Errorf("expected Validate to reject %+v", tt.cfg)
			}
		})
	}
}

func TestValidateAcceptsGoodValues(t *testing.T) {
	cfg := Config{
		Port:        ptrString("/dev/ttyUSB0"),
		BaudRate:    ptrInt(115200),
		ReadTimeout: ptrString("2s"),
		AdminListen: ptrString(":9090"),
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigRejectsNonJSONExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected LoadConfig to reject a non-.json extension")
	}
}

func TestLoadConfigRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(path, big, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected LoadConfig to reject an oversized file")
	}
}

func TestLoadConfigParsesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	contents := `{"port": "/dev/ttyUSB0", "baud_rate": 250000}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GetPort() != "/dev/ttyUSB0" {
		t.Errorf("Port = %q, want /dev/ttyUSB0", cfg.GetPort())
	}
	if cfg.GetBaudRate() != 250000 {
		t.Errorf("BaudRate = %d, want 250000", cfg.GetBaudRate())
	}
	// Unset fields still fall back to package defaults via the getters.
	if cfg.GetReadTimeout() != DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want default %v", cfg.GetReadTimeout(), DefaultReadTimeout)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	contents := `{"baud_rate": -1}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected LoadConfig to reject an invalid baud rate")
	}
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.json"); err == nil {
		t.Error("expected LoadConfig to fail for a missing file")
	}
}
