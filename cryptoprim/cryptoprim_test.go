package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESRoundTrip(t *testing.T) {
	key, err := RandomBytes(32)
	require.NoError(t, err)
	plain := []byte("the quick brown fox jumps over the lazy dog")

	for _, withDigest := range []bool{false, true} {
		env, err := AESEncrypt(plain, key, withDigest)
		require.NoError(t, err)

		got, err := AESDecrypt(env, key, withDigest)
		require.NoError(t, err)
		assert.Equal(t, plain, got)

		flipped := append([]byte{}, env...)
		flipped[len(flipped)-1] ^= 0xFF
		_, err = AESDecrypt(flipped, key, withDigest)
		assert.Error(t, err)
	}
}

func TestKyber1024EncapsulateDecapsulate(t *testing.T) {
	pub, priv, err := GenerateKyber1024()
	require.NoError(t, err)
	assert.Len(t, PackKyberPublicKey(pub), KyberPublicKeySize)

	ct, ss1, err := KyberEncapsulate(pub)
	require.NoError(t, err)
	assert.Len(t, ct, KyberCiphertextSize)

	ss2, err := KyberDecapsulate(priv, ct)
	require.NoError(t, err)
	assert.Equal(t, ss1, ss2)
}

func TestDilithium5SignVerify(t *testing.T) {
	pub, priv, err := GenerateDilithium5()
	require.NoError(t, err)
	assert.Len(t, PackDilithiumPublicKey(pub), DilithiumPublicKeySize)

	msg := []byte("session proof challenge")
	sig := DilithiumSign(priv, msg)
	assert.Len(t, sig, DilithiumSignatureSize)
	assert.True(t, DilithiumVerify(pub, msg, sig))
	assert.False(t, DilithiumVerify(pub, []byte("tampered"), sig))
}

func TestX25519DH(t *testing.T) {
	a, err := GenerateX25519()
	require.NoError(t, err)
	b, err := GenerateX25519()
	require.NoError(t, err)

	s1, err := a.DH(b.PublicBytes())
	require.NoError(t, err)
	s2, err := b.DH(a.PublicBytes())
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestEd25519SignVerify(t *testing.T) {
	pub, priv, err := GenerateEd25519()
	require.NoError(t, err)

	msg := []byte("ephPQpub")
	sig := Ed25519Sign(priv, msg)
	assert.True(t, Ed25519Verify(pub, msg, sig))
	assert.False(t, Ed25519Verify(pub, []byte("other"), sig))
}

// SessionPub composite size: spec.md fixes this at 2624 bytes —
// 32-byte Ed25519 public key concatenated with a 2592-byte Dilithium-5
// public key, which is exactly DilithiumPublicKeySize.
func TestSessionPublicKeyCompositeSize(t *testing.T) {
	const edPubSize = 32
	assert.Equal(t, 2624, edPubSize+DilithiumPublicKeySize)
	assert.Equal(t, 4595, DilithiumSignatureSize)
	assert.Equal(t, 1568, KyberPublicKeySize)
	assert.Equal(t, 1568, KyberCiphertextSize)
}
