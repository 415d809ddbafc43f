package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("PROTOV2D_TEST_VAR", "resolved")
	defer os.Unsetenv("PROTOV2D_TEST_VAR")

	assert.Equal(t, "resolved", SubstituteEnvVars("${PROTOV2D_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${PROTOV2D_MISSING_VAR:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${PROTOV2D_MISSING_VAR}"))
	assert.Equal(t, "plain", SubstituteEnvVars("plain"))
}

func TestSubstituteEnvVarsInServerConfig(t *testing.T) {
	os.Setenv("PROTOV2D_TEST_LISTEN", ":9443")
	defer os.Unsetenv("PROTOV2D_TEST_LISTEN")

	cfg := &ServerConfig{
		Listen:  "${PROTOV2D_TEST_LISTEN}",
		Logging: &LoggingConfig{Level: "${PROTOV2D_MISSING_VAR:warn}"},
	}
	SubstituteEnvVarsInServerConfig(cfg)
	assert.Equal(t, ":9443", cfg.Listen)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestGetEnvironment(t *testing.T) {
	os.Unsetenv("PROTOV2D_ENV")
	os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "development", GetEnvironment())

	os.Setenv("ENVIRONMENT", "Staging")
	defer os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "staging", GetEnvironment())

	os.Setenv("PROTOV2D_ENV", "Production")
	defer os.Unsetenv("PROTOV2D_ENV")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}
