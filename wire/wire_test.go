package wire_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/protov2d/wire"
)

func TestHexRoundTrip(t *testing.T) {
	buf := make([]byte, 100)
	_, err := rand.Read(buf)
	require.NoError(t, err)

	s := wire.ToHex(buf)
	assert.Equal(t, 200, len(s))
	back, err := wire.FromHex(s)
	require.NoError(t, err)
	assert.Equal(t, buf, back)
}

func TestDupIDParityAndUniqueness(t *testing.T) {
	seen := make(map[uint32]bool)
	for c := uint32(0); c < 1000; c++ {
		client := wire.MintDupID(c, false)
		server := wire.MintDupID(c, true)
		assert.False(t, wire.DupIDIsServerMinted(client))
		assert.True(t, wire.DupIDIsServerMinted(server))
		assert.NotEqual(t, client, server)
		assert.False(t, seen[client])
		assert.False(t, seen[server])
		seen[client] = true
		seen[server] = true
	}
}

func TestV1CompositeSigSentinelMustBePresent(t *testing.T) {
	sigClassic := make([]byte, 64)
	sigPQ := make([]byte, 4595)
	composite := wire.BuildV1CompositeSig(sigClassic, sigPQ)

	gotClassic, gotPQ, err := wire.SplitV1CompositeSig(composite, len(sigPQ))
	require.NoError(t, err)
	assert.Equal(t, sigClassic, gotClassic)
	assert.Equal(t, sigPQ, gotPQ)

	tampered := append([]byte{}, composite...)
	tampered[64] = 0x00
	_, _, err = wire.SplitV1CompositeSig(tampered, len(sigPQ))
	assert.Error(t, err)
}

func TestInitialPacketArityRejectsShortArray(t *testing.T) {
	_, err := wire.DecodeInitialPacket([]byte{0x91, 0x01}) // msgpack array of length 1
	assert.Error(t, err)
}

func TestInitialPacketRoundTrip(t *testing.T) {
	body, err := wire.EncodeInitialPacket(wire.InitialPacket{
		HandshakeVersion:  2,
		SupportedVersions: []int{1, 2},
		EncryptionMode:    wire.EncryptionModeFullPin,
	})
	require.NoError(t, err)

	got, err := wire.DecodeInitialPacket(body)
	require.NoError(t, err)
	assert.Equal(t, 2, got.HandshakeVersion)
	assert.Equal(t, []int{1, 2}, got.SupportedVersions)
	assert.Equal(t, wire.EncryptionModeFullPin, got.EncryptionMode)
}

func TestV2ServerHelloEncryptedRoundTrip(t *testing.T) {
	hello := wire.V2ServerHelloEncrypted{
		X25519Pub:   make([]byte, wire.X25519PubSize),
		KyberPub:    make([]byte, wire.KyberPubSize),
		SigClassic:  make([]byte, wire.Ed25519SigSize),
		SigPQ:       make([]byte, wire.SigPQSize),
		Challenge:   make([]byte, wire.ChallengeSize),
		PinMaterial: []byte("pin-material"),
	}
	body, err := wire.EncodeV2ServerHelloEncrypted(hello)
	require.NoError(t, err)

	got, err := wire.DecodeV2ServerHelloEncrypted(body)
	require.NoError(t, err)
	assert.Equal(t, hello.PinMaterial, got.PinMaterial)
}

func TestSessionProofRejectsWrongLength(t *testing.T) {
	_, err := wire.DecodeSessionProof([]byte{0x01, 0x02})
	assert.Error(t, err)
}
