// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the YAML configuration surface for the initiator.
// Grounded on the teacher's InitialTPerProperties/InitialHostProperties
// pattern (session.go): a package-level defaults value merged in before
// validation, generalized from a hardcoded property struct into a
// yaml.v2-unmarshaled tree with an explicit default pass, since the
// teacher never reads its properties from a file.
package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v2"
)

// Digests selects which digests a connection negotiates.
type Digests struct {
	Header bool `yaml:"header"`
	Data   bool `yaml:"data"`
}

// AuthConfig carries CHAP credentials. Username+Secret are both
// required together; a target without an auth block has a nil Auth.
type AuthConfig struct {
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`
}

// NegotiationConfig mirrors the Login/Text keys an initiator proposes.
type NegotiationConfig struct {
	MaxRecvDataSegmentLength uint32  `yaml:"max_recv_data_segment_length"`
	MaxBurstLength           uint32  `yaml:"max_burst_length"`
	FirstBurstLength         uint32  `yaml:"first_burst_length"`
	InitialR2T               bool    `yaml:"initial_r2t"`
	ImmediateData            bool    `yaml:"immediate_data"`
	Digests                  Digests `yaml:"digests"`
}

// PerformanceConfig bounds how long a single request/response may
// outstand. An expired wait fails only that exchange; a write that
// misses its deadline closes the connection.
type PerformanceConfig struct {
	IOTimeout time.Duration `yaml:"io_timeout"`
	NopInterval time.Duration `yaml:"nop_interval"`
}

// ConnectionsConfig bounds session-pool shape.
type ConnectionsConfig struct {
	MaxSessions            int `yaml:"max_sessions"`
	MaxConnectionsPerSession int `yaml:"max_connections_per_session"`
}

// InitiatorConfig names this initiator on the wire.
type InitiatorConfig struct {
	Name string `yaml:"name"`
	ISID string `yaml:"isid"` // hex-encoded, must decode to exactly 6 bytes
}

// TargetConfig is one discoverable/loginable target.
type TargetConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Auth    *AuthConfig `yaml:"auth,omitempty"`
}

// Config is the root configuration tree.
type Config struct {
	Initiator    InitiatorConfig   `yaml:"initiator"`
	Targets      []TargetConfig    `yaml:"targets"`
	Negotiation  NegotiationConfig `yaml:"negotiation"`
	Performance  PerformanceConfig `yaml:"performance"`
	Connections  ConnectionsConfig `yaml:"connections"`
}

// defaults mirrors the teacher's InitialTPerProperties/
// InitialHostProperties: conservative, RFC-compliant fallback values.
// applyDefaults copies the numeric and duration values into fields the
// YAML document leaves at zero; the InitialR2T and ImmediateData values
// are not applied, so an absent boolean key decodes as false.
var defaults = Config{
	Negotiation: NegotiationConfig{
		MaxRecvDataSegmentLength: 8192,
		MaxBurstLength:           262144,
		FirstBurstLength:         65536,
		InitialR2T:               true,
		ImmediateData:            false,
	},
	Performance: PerformanceConfig{
		IOTimeout:   5 * time.Second,
		NopInterval: 15 * time.Second,
	},
	Connections: ConnectionsConfig{
		MaxSessions:              1,
		MaxConnectionsPerSession: 1,
	},
}

// Load parses a YAML document into a Config, applies defaults for
// zero-valued fields, and validates the result.
func Load(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := Config{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Negotiation.MaxRecvDataSegmentLength == 0 {
		c.Negotiation.MaxRecvDataSegmentLength = defaults.Negotiation.MaxRecvDataSegmentLength
	}
	if c.Negotiation.MaxBurstLength == 0 {
		c.Negotiation.MaxBurstLength = defaults.Negotiation.MaxBurstLength
	}
	if c.Negotiation.FirstBurstLength == 0 {
		c.Negotiation.FirstBurstLength = defaults.Negotiation.FirstBurstLength
	}
	if c.Performance.IOTimeout == 0 {
		c.Performance.IOTimeout = defaults.Performance.IOTimeout
	}
	if c.Performance.NopInterval == 0 {
		c.Performance.NopInterval = defaults.Performance.NopInterval
	}
	if c.Connections.MaxSessions == 0 {
		c.Connections.MaxSessions = defaults.Connections.MaxSessions
	}
	if c.Connections.MaxConnectionsPerSession == 0 {
		c.Connections.MaxConnectionsPerSession = defaults.Connections.MaxConnectionsPerSession
	}
}

// DecodeISID decodes the configured hex ISID string and clears the top
// two bits of byte 0.
func (c InitiatorConfig) DecodeISID() ([6]byte, error) {
	var out [6]byte
	b, err := hex.DecodeString(c.ISID)
	if err != nil {
		return out, fmt.Errorf("config: isid is not valid hex: %w", err)
	}
	if len(b) != 6 {
		return out, fmt.Errorf("%w: decoded to %d bytes, want 6", ErrInvalidISID, len(b))
	}
	copy(out[:], b)
	out[0] &= 0x3f
	return out, nil
}
