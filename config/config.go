// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads the on-disk configuration for the ProtoV2d
// server and client binaries: root/session key material, handshake
// and session timing knobs, transport binding, and the ambient
// logging/metrics/health sections every sage-x-project service carries.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-x-project/protov2d/handshake"
	"github.com/sage-x-project/protov2d/session"
	"github.com/sage-x-project/protov2d/wire"
)

// ServerConfig is the on-disk shape of a protov2d-server process.
type ServerConfig struct {
	Environment string `yaml:"environment" json:"environment"`

	// Listen is the address the server's transport binds to (e.g.
	// ":8443" for wstransport).
	Listen string `yaml:"listen" json:"listen"`

	// RootPrivateKeyHex and RootPublicKeyHex are the hex-encoded
	// classicPriv∥pqPriv and classicPub∥pqPub halves of the server's
	// long-lived root identity (spec.md §3), as produced by
	// protov2d-keygen. Generating a root identity is out of this
	// package's scope.
	RootPrivateKeyHex string `yaml:"root_private_key" json:"root_private_key"`
	RootPublicKeyHex  string `yaml:"root_public_key" json:"root_public_key"`

	AllowDisableEncryption bool  `yaml:"allow_disable_encryption" json:"allow_disable_encryption"`
	V1Enabled              bool  `yaml:"v1_enabled" json:"v1_enabled"`
	SupportedVersions      []int `yaml:"supported_versions" json:"supported_versions"`

	// TrustProxy and TrustedProxyCIDRs control how ipresolve derives a
	// connecting peer's address from X-Forwarded-For when the server
	// sits behind a reverse proxy.
	TrustProxy        bool     `yaml:"trust_proxy" json:"trust_proxy"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs" json:"trusted_proxy_cidrs"`

	AckTimeout    time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval" json:"ping_interval"`
	PingTimeout   time.Duration `yaml:"ping_timeout" json:"ping_timeout"`
	AvgPingCount  int           `yaml:"avg_ping_count" json:"avg_ping_count"`
	StreamTimeout time.Duration `yaml:"stream_timeout" json:"stream_timeout"`

	Logging *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
	Health  *HealthConfig  `yaml:"health" json:"health"`
}

// PinEntryConfig is the on-disk form of a handshake.PinEntry: Kind is
// one of "key", "hash", or "any"; Value is hex, ignored for "any".
type PinEntryConfig struct {
	Kind  string `yaml:"kind" json:"kind"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

// ClientConfig is the on-disk shape of a protov2d-client process.
type ClientConfig struct {
	Environment string `yaml:"environment" json:"environment"`

	ServerURL string           `yaml:"server_url" json:"server_url"`
	Pins      []PinEntryConfig `yaml:"pins" json:"pins"`

	// HandshakeV1 selects the legacy handshake offer: "auto" (default),
	// "forced", or "disabled".
	HandshakeV1       string `yaml:"handshake_v1" json:"handshake_v1"`
	DisableEncryption bool   `yaml:"disable_encryption" json:"disable_encryption"`

	// SessionPrivateKeyHex and SessionPublicKeyHex persist the
	// client's session signing keypair across process restarts so a
	// dropped connection can resume the same sessionID (spec.md §1,
	// §3). Left blank, a fresh (non-resumable) identity is generated
	// at startup.
	SessionPrivateKeyHex string `yaml:"session_private_key,omitempty" json:"session_private_key,omitempty"`
	SessionPublicKeyHex  string `yaml:"session_public_key,omitempty" json:"session_public_key,omitempty"`

	ReconnectionTime  time.Duration `yaml:"reconnection_time" json:"reconnection_time"`
	MaxInitialRetries int           `yaml:"max_initial_retries" json:"max_initial_retries"`

	Logging *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// LoadServerConfigFromFile loads a ServerConfig from path, trying YAML
// then falling back to JSON, same as the teacher's config loader.
func LoadServerConfigFromFile(path string) (*ServerConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setServerDefaults(cfg)
	return cfg, nil
}

// LoadClientConfigFromFile loads a ClientConfig from path.
func LoadClientConfigFromFile(path string) (*ClientConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ClientConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setClientDefaults(cfg)
	return cfg, nil
}

// SaveServerConfigToFile saves cfg to path, choosing the format by
// file extension the same way the teacher's SaveToFile does.
func SaveServerConfigToFile(cfg *ServerConfig, path string) error {
	return saveToFile(cfg, path)
}

// SaveClientConfigToFile saves cfg to path.
func SaveClientConfigToFile(cfg *ClientConfig, path string) error {
	return saveToFile(cfg, path)
}

func saveToFile(cfg interface{}, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setServerDefaults(cfg *ServerConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if len(cfg.SupportedVersions) == 0 {
		cfg.SupportedVersions = []int{1, 2}
	}
	d := session.DefaultConfig()
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = d.AckTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = d.PingTimeout
	}
	if cfg.AvgPingCount == 0 {
		cfg.AvgPingCount = d.AvgPingCount
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = d.StreamTimeout
	}
	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}
}

func setClientDefaults(cfg *ClientConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HandshakeV1 == "" {
		cfg.HandshakeV1 = "auto"
	}
	if cfg.ReconnectionTime == 0 {
		cfg.ReconnectionTime = 5 * time.Second
	}
	if cfg.MaxInitialRetries == 0 {
		cfg.MaxInitialRetries = 3
	}
	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}
}

// HandshakeConfig builds the handshake.ServerConfig this configuration
// describes, parsing the root identity out of its hex fields.
func (c *ServerConfig) HandshakeConfig() (handshake.ServerConfig, error) {
	priv, err := wire.FromHex(c.RootPrivateKeyHex)
	if err != nil {
		return handshake.ServerConfig{}, fmt.Errorf("config: root_private_key: %w", err)
	}
	pub, err := wire.FromHex(c.RootPublicKeyHex)
	if err != nil {
		return handshake.ServerConfig{}, fmt.Errorf("config: root_public_key: %w", err)
	}
	identity, err := handshake.ParseRootIdentity(priv, pub)
	if err != nil {
		return handshake.ServerConfig{}, err
	}

	versions := c.SupportedVersions
	if len(versions) == 0 {
		versions = []int{1, 2}
	}
	return handshake.ServerConfig{
		Identity:               identity,
		AllowDisableEncryption: c.AllowDisableEncryption,
		V1Enabled:              c.V1Enabled,
		SupportedVersions:      versions,
	}, nil
}

// SessionConfig builds the session.Config this configuration describes.
func (c *ServerConfig) SessionConfig() session.Config {
	return session.Config{
		AckTimeout:    c.AckTimeout,
		PingInterval:  c.PingInterval,
		PingTimeout:   c.PingTimeout,
		AvgPingCount:  c.AvgPingCount,
		StreamTimeout: c.StreamTimeout,
	}
}

// HandshakeConfig builds the handshake.ClientConfig this configuration
// describes, generating a fresh session identity when none is
// persisted in SessionPrivateKeyHex/SessionPublicKeyHex.
func (c *ClientConfig) HandshakeConfig() (handshake.ClientConfig, error) {
	pinSet, err := c.pinSet()
	if err != nil {
		return handshake.ClientConfig{}, err
	}

	sess, err := c.sessionIdentity()
	if err != nil {
		return handshake.ClientConfig{}, err
	}

	var mode handshake.V1Mode
	switch c.HandshakeV1 {
	case "", "auto":
		mode = handshake.V1Auto
	case "forced":
		mode = handshake.V1Forced
	case "disabled":
		mode = handshake.V1Disabled
	default:
		return handshake.ClientConfig{}, fmt.Errorf("config: handshake_v1: unknown mode %q", c.HandshakeV1)
	}

	return handshake.ClientConfig{
		PinSet:            pinSet,
		V1Mode:            mode,
		DisableEncryption: c.DisableEncryption,
		Session:           sess,
	}, nil
}

func (c *ClientConfig) pinSet() (handshake.PinSet, error) {
	pins := make(handshake.PinSet, 0, len(c.Pins))
	for _, p := range c.Pins {
		switch p.Kind {
		case "any":
			pins = append(pins, handshake.PinAcceptAny())
		case "key":
			raw, err := wire.FromHex(p.Value)
			if err != nil {
				return nil, fmt.Errorf("config: pin key: %w", err)
			}
			pins = append(pins, handshake.PinFullKey(raw))
		case "hash":
			raw, err := wire.FromHex(p.Value)
			if err != nil {
				return nil, fmt.Errorf("config: pin hash: %w", err)
			}
			pins = append(pins, handshake.PinHashRaw(raw))
		default:
			return nil, fmt.Errorf("config: pin kind: unknown %q", p.Kind)
		}
	}
	return pins, nil
}

func (c *ClientConfig) sessionIdentity() (*handshake.SessionIdentity, error) {
	if c.SessionPrivateKeyHex == "" && c.SessionPublicKeyHex == "" {
		return handshake.GenerateSessionIdentity()
	}
	priv, err := wire.FromHex(c.SessionPrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: session_private_key: %w", err)
	}
	pub, err := wire.FromHex(c.SessionPublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: session_public_key: %w", err)
	}
	// SessionIdentity shares RootIdentity's wire shape (classicPriv∥pqPriv,
	// classicPub∥pqPub), so the same parser applies.
	root, err := handshake.ParseRootIdentity(priv, pub)
	if err != nil {
		return nil, err
	}
	return &handshake.SessionIdentity{
		ClassicPub:  root.ClassicPub,
		ClassicPriv: root.ClassicPriv,
		PQPub:       root.PQPub,
		PQPriv:      root.PQPriv,
	}, nil
}
