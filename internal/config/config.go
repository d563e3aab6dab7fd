// Package config loads the JSON configuration file cmd/treadmillctl
// accepts via -config, overriding individual CLI flags when set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// maxConfigFileSize bounds how large a config file LoadConfig will
// accept, guarding against accidentally pointing -config at the wrong
// file.
const maxConfigFileSize = 1 * 1024 * 1024

// Config is the root configuration for a treadmillctl run. Every field
// is a pointer so that a partial JSON file only overrides the fields it
// mentions; Normalize fills in the rest from the package defaults.
type Config struct {
	// Port is the serial device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port *string `json:"port,omitempty"`
	// BaudRate is the link's configurable baud rate.
	BaudRate *int `json:"baud_rate,omitempty"`
	// ReadTimeout is a duration string (e.g. "5s") bounding every
	// synchronous handshake read.
	ReadTimeout *string `json:"read_timeout,omitempty"`
	// AdminListen is the listen address for the operator HTTP debug
	// surface, e.g. ":7080".
	AdminListen *string `json:"admin_listen,omitempty"`
	// AdminAllowRawWrite enables the raw command POST route on the
	// admin surface.
	AdminAllowRawWrite *bool `json:"admin_allow_raw_write,omitempty"`
}

// Defaults mirror the CLI flag defaults in cmd/treadmillctl.
const (
	DefaultBaudRate    = 500000
	DefaultReadTimeout = 5 * time.Second
	DefaultAdminListen = ":7080"
)

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// Empty returns a Config with every field nil.
func Empty() *Config { return &Config{} }

// LoadConfig reads and parses a JSON config file at path. The path must
// end in ".json" and be no larger than maxConfigFileSize. Fields absent
// from the file stay nil; call Normalize to fill in defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that any fields which are set hold legal values. It
// does not require every field to be set — that is Normalize's job.
func (c *Config) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.ReadTimeout != nil {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout %q: %w", *c.ReadTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("read_timeout must be positive, got %s", d)
		}
	}
	if c.Port != nil && *c.Port == "" {
		return fmt.Errorf("port must not be empty when set")
	}
	if c.AdminListen != nil && *c.AdminListen == "" {
		return fmt.Errorf("admin_listen must not be empty when set")
	}
	return nil
}

// Normalize returns a copy of c with every unset field filled in from
// the package defaults. It does not require Port to be set: a dry-run
// invocation legitimately has none.
func (c *Config) Normalize() *Config {
	out := *c
	if out.BaudRate == nil {
		out.BaudRate = ptrInt(DefaultBaudRate)
	}
	if out.ReadTimeout == nil {
		out.ReadTimeout = ptrString(DefaultReadTimeout.String())
	}
	if out.AdminListen == nil {
		out.AdminListen = ptrString(DefaultAdminListen)
	}
	if out.AdminAllowRawWrite == nil {
		out.AdminAllowRawWrite = ptrBool(false)
	}
	return &out
}

// GetPort returns the configured port, or "" if unset.
func (c *Config) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetBaudRate returns the configured baud rate, or DefaultBaudRate.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetReadTimeout parses and returns ReadTimeout, or DefaultReadTimeout
// if unset or unparseable.
func (c *Config) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil {
		return DefaultReadTimeout
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil {
		return DefaultReadTimeout
	}
	return d
}

// GetAdminListen returns the configured admin listen address, or
// DefaultAdminListen.
func (c *Config) GetAdminListen() string {
	if c.AdminListen == nil {
		return DefaultAdminListen
	}
	return *c.AdminListen
}

// GetAdminAllowRawWrite returns whether the raw command route is
// enabled, defaulting to false.
func (c *Config) GetAdminAllowRawWrite() bool {
	if c.AdminAllowRawWrite == nil {
		return false
	}
	return *c.AdminAllowRawWrite
}
