package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/handshake"
	"github.com/sage-x-project/protov2d/session"
)

func TestLoadServerConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "server.yaml")

	content := `environment: production
listen: ":8443"
root_private_key: "aabbcc"
root_public_key: "ddeeff"
allow_disable_encryption: false
v1_enabled: true
supported_versions: [1, 2]
logging:
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadServerConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ":8443", cfg.Listen)
	assert.Equal(t, []int{1, 2}, cfg.SupportedVersions)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level) // filled by setServerDefaults
	assert.NotZero(t, cfg.AckTimeout)
}

func TestLoadServerConfigDefaultsWhenMissingFields(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\n"), 0644))

	cfg, err := LoadServerConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []int{1, 2}, cfg.SupportedVersions)
	assert.Equal(t, session.DefaultConfig().AckTimeout, cfg.AckTimeout)
}

func TestLoadClientConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "client.yaml")

	content := `server_url: "wss://example.com/protov2d"
pins:
  - kind: hash
    value: "aa"
handshake_v1: forced
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadClientConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/protov2d", cfg.ServerURL)
	assert.Equal(t, "forced", cfg.HandshakeV1)
	assert.Len(t, cfg.Pins, 1)
	assert.Equal(t, 3, cfg.MaxInitialRetries) // default
}

func TestServerConfigHandshakeConfigRoundTrips(t *testing.T) {
	root, err := handshake.GenerateRootIdentity()
	require.NoError(t, err)

	pqPriv := make([]byte, cryptoprim.DilithiumPrivateKeySize)
	root.PQPriv.Pack(pqPriv)
	privHex := hex.EncodeToString(append(append([]byte{}, root.ClassicPriv...), pqPriv...))
	pubHex := hex.EncodeToString(root.PublicBytes())

	cfg := &ServerConfig{
		RootPrivateKeyHex: privHex,
		RootPublicKeyHex:  pubHex,
	}
	setServerDefaults(cfg)

	hc, err := cfg.HandshakeConfig()
	require.NoError(t, err)
	assert.Equal(t, pubHex, hex.EncodeToString(hc.Identity.PublicBytes()))
}

func TestClientConfigHandshakeConfigGeneratesSessionWhenAbsent(t *testing.T) {
	cfg := &ClientConfig{
		Pins: []PinEntryConfig{{Kind: "any"}},
	}
	setClientDefaults(cfg)

	hc, err := cfg.HandshakeConfig()
	require.NoError(t, err)
	assert.NotNil(t, hc.Session)
	assert.True(t, hc.PinSet.AcceptsAny())
}

func TestClientConfigRejectsUnknownPinKind(t *testing.T) {
	cfg := &ClientConfig{Pins: []PinEntryConfig{{Kind: "bogus"}}}
	setClientDefaults(cfg)
	_, err := cfg.HandshakeConfig()
	assert.Error(t, err)
}
