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
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name and default value
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		// Get environment variable
		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInServerConfig recursively substitutes environment
// variables in a ServerConfig's string fields.
func SubstituteEnvVarsInServerConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	cfg.Listen = SubstituteEnvVars(cfg.Listen)
	cfg.RootPrivateKeyHex = SubstituteEnvVars(cfg.RootPrivateKeyHex)
	cfg.RootPublicKeyHex = SubstituteEnvVars(cfg.RootPublicKeyHex)
	substituteLogging(cfg.Logging)
}

// SubstituteEnvVarsInClientConfig recursively substitutes environment
// variables in a ClientConfig's string fields.
func SubstituteEnvVarsInClientConfig(cfg *ClientConfig) {
	if cfg == nil {
		return
	}
	cfg.ServerURL = SubstituteEnvVars(cfg.ServerURL)
	cfg.SessionPrivateKeyHex = SubstituteEnvVars(cfg.SessionPrivateKeyHex)
	cfg.SessionPublicKeyHex = SubstituteEnvVars(cfg.SessionPublicKeyHex)
	substituteLogging(cfg.Logging)
}

func substituteLogging(l *LoggingConfig) {
	if l == nil {
		return
	}
	l.Level = SubstituteEnvVars(l.Level)
	l.Format = SubstituteEnvVars(l.Format)
	l.Output = SubstituteEnvVars(l.Output)
	l.FilePath = SubstituteEnvVars(l.FilePath)
}

// GetEnvironment returns the current environment from PROTOV2D_ENV or
// defaults to development.
func GetEnvironment() string {
	env := os.Getenv("PROTOV2D_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}
