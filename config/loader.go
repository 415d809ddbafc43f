// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.


package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{ConfigDir: "config"}
}

// LoadServer loads a ServerConfig with automatic environment detection:
// it tries config/<env>.yaml, then config/default.yaml, then
// config/server.yaml, falling back to bare defaults if none exist.
func LoadServer(opts ...LoaderOptions) (*ServerConfig, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadServerConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadServerConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadServerConfigFile(filepath.Join(options.ConfigDir, "server.yaml"))
			if err != nil {
				cfg = &ServerConfig{}
				setServerDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInServerConfig(cfg)
	}
	applyServerEnvironmentOverrides(cfg)

	return cfg, nil
}

// LoadClient loads a ClientConfig the same way LoadServer loads a
// ServerConfig, trying config/<env>.yaml, config/default.yaml, then
// config/client.yaml.
func LoadClient(opts ...LoaderOptions) (*ClientConfig, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadClientConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadClientConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadClientConfigFile(filepath.Join(options.ConfigDir, "client.yaml"))
			if err != nil {
				cfg = &ClientConfig{}
				setClientDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInClientConfig(cfg)
	}
	applyClientEnvironmentOverrides(cfg)

	return cfg, nil
}

func loadServerConfigFile(path string) (*ServerConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadServerConfigFromFile(path)
}

func loadClientConfigFile(path string) (*ClientConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadClientConfigFromFile(path)
}

// applyServerEnvironmentOverrides overrides a ServerConfig with
// PROTOV2D_* environment variables, highest priority.
func applyServerEnvironmentOverrides(cfg *ServerConfig) {
	if listen := os.Getenv("PROTOV2D_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if priv := os.Getenv("PROTOV2D_ROOT_PRIVATE_KEY"); priv != "" {
		cfg.RootPrivateKeyHex = priv
	}
	if pub := os.Getenv("PROTOV2D_ROOT_PUBLIC_KEY"); pub != "" {
		cfg.RootPublicKeyHex = pub
	}
	if cfg.Logging != nil {
		if logLevel := os.Getenv("PROTOV2D_LOG_LEVEL"); logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat := os.Getenv("PROTOV2D_LOG_FORMAT"); logFormat != "" {
			cfg.Logging.Format = logFormat
		}
	}
	if cfg.Metrics != nil {
		if v := os.Getenv("PROTOV2D_METRICS_ENABLED"); v == "true" {
			cfg.Metrics.Enabled = true
		} else if v == "false" {
			cfg.Metrics.Enabled = false
		}
	}
}

// applyClientEnvironmentOverrides overrides a ClientConfig with
// PROTOV2D_* environment variables.
func applyClientEnvironmentOverrides(cfg *ClientConfig) {
	if url := os.Getenv("PROTOV2D_SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if cfg.Logging != nil {
		if logLevel := os.Getenv("PROTOV2D_LOG_LEVEL"); logLevel != "" {
			cfg.Logging.Level = logLevel
		}
	}
}

// MustLoadServer loads a ServerConfig or panics on error.
func MustLoadServer(opts ...LoaderOptions) *ServerConfig {
	cfg, err := LoadServer(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load server configuration: %v", err))
	}
	return cfg
}

// MustLoadClient loads a ClientConfig or panics on error.
func MustLoadClient(opts ...LoaderOptions) *ClientConfig {
	cfg, err := LoadClient(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load client configuration: %v", err))
	}
	return cfg
}
