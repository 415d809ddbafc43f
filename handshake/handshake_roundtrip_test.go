package handshake_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/handshake"
	"github.com/sage-x-project/protov2d/protoerr"
	"github.com/sage-x-project/protov2d/session"
	"github.com/sage-x-project/protov2d/transport/pipetransport"
	"github.com/sage-x-project/protov2d/wire"
)

// runPair drives the server side on one goroutine and returns its
// result alongside the client's, so the test can assert on both.
func runPair(t *testing.T, serverCfg handshake.ServerConfig, clientCfg handshake.ClientConfig) (session.Outcome, error, bool, error) {
	t.Helper()
	clientT, serverT := pipetransport.Pair()

	mgr := session.NewManager(session.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var srvErr error
	var srvNew bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, srvNew, srvErr = handshake.RunServer(ctx, serverT, serverCfg, mgr)
	}()

	outcome, cliErr := handshake.RunClient(ctx, clientT, clientCfg)
	<-done
	return outcome, cliErr, srvNew, srvErr
}

func newRootIdentity(t *testing.T) *handshake.RootIdentity {
	t.Helper()
	id, err := handshake.GenerateRootIdentity()
	require.NoError(t, err)
	return id
}

func newSessionIdentity(t *testing.T) *handshake.SessionIdentity {
	t.Helper()
	id, err := handshake.GenerateSessionIdentity()
	require.NoError(t, err)
	return id
}

func TestHandshakeV2EncryptedHashPin(t *testing.T) {
	root := newRootIdentity(t)
	sess := newSessionIdentity(t)

	serverCfg := handshake.DefaultServerConfig(root)
	clientCfg := handshake.ClientConfig{
		PinSet:  handshake.PinSet{handshake.PinHashOf(root.PublicBytes())},
		V1Mode:  handshake.V1Disabled,
		Session: sess,
	}

	outcome, cliErr, srvNew, srvErr := runPair(t, serverCfg, clientCfg)
	require.NoError(t, cliErr)
	require.NoError(t, srvErr)
	assert.True(t, srvNew)
	assert.Equal(t, 2, outcome.ProtocolVersion)
	assert.Len(t, outcome.KeyStack, 2)
	assert.Equal(t, sess.WireBytes(), outcome.SessionPub)
}

func TestHandshakeV2EncryptedFullPin(t *testing.T) {
	root := newRootIdentity(t)
	sess := newSessionIdentity(t)

	serverCfg := handshake.DefaultServerConfig(root)
	clientCfg := handshake.ClientConfig{
		PinSet:  handshake.PinSet{handshake.PinFullKey(root.PublicBytes())},
		V1Mode:  handshake.V1Disabled,
		Session: sess,
	}

	_, cliErr, _, srvErr := runPair(t, serverCfg, clientCfg)
	require.NoError(t, cliErr)
	require.NoError(t, srvErr)
}

func TestHandshakeV1Forced(t *testing.T) {
	root := newRootIdentity(t)
	sess := newSessionIdentity(t)

	serverCfg := handshake.DefaultServerConfig(root)
	clientCfg := handshake.ClientConfig{
		PinSet:  handshake.PinSet{handshake.PinHashOf(root.PublicBytes())},
		V1Mode:  handshake.V1Forced,
		Session: sess,
	}

	outcome, cliErr, srvNew, srvErr := runPair(t, serverCfg, clientCfg)
	require.NoError(t, cliErr)
	require.NoError(t, srvErr)
	assert.True(t, srvNew)
	assert.Equal(t, 1, outcome.ProtocolVersion)
	assert.Len(t, outcome.KeyStack, 1)
}

func TestHandshakeV2Unencrypted(t *testing.T) {
	root := newRootIdentity(t)
	sess := newSessionIdentity(t)

	serverCfg := handshake.DefaultServerConfig(root)
	serverCfg.AllowDisableEncryption = true
	clientCfg := handshake.ClientConfig{
		PinSet:            handshake.PinSet{handshake.PinAcceptAny()},
		V1Mode:            handshake.V1Disabled,
		DisableEncryption: true,
		Session:           sess,
	}

	outcome, cliErr, _, srvErr := runPair(t, serverCfg, clientCfg)
	require.NoError(t, cliErr)
	require.NoError(t, srvErr)
	assert.Nil(t, outcome.KeyStack)
}

func TestHandshakeUnencryptedRefusedByDefault(t *testing.T) {
	root := newRootIdentity(t)
	sess := newSessionIdentity(t)

	serverCfg := handshake.DefaultServerConfig(root) // AllowDisableEncryption defaults false
	clientCfg := handshake.ClientConfig{
		PinSet:            handshake.PinSet{handshake.PinAcceptAny()},
		V1Mode:            handshake.V1Disabled,
		DisableEncryption: true,
		Session:           sess,
	}

	_, cliErr, _, srvErr := runPair(t, serverCfg, clientCfg)
	require.Error(t, cliErr)
	require.Error(t, srvErr)
	assert.True(t, protoerr.IsNonRecoverable(cliErr))
	assert.True(t, protoerr.IsNonRecoverable(srvErr))
}

func TestHandshakePinMismatchAbortsBeforeSessionProof(t *testing.T) {
	root := newRootIdentity(t)
	other := newRootIdentity(t)
	sess := newSessionIdentity(t)

	serverCfg := handshake.DefaultServerConfig(root)
	clientCfg := handshake.ClientConfig{
		PinSet:  handshake.PinSet{handshake.PinHashOf(other.PublicBytes())},
		V1Mode:  handshake.V1Disabled,
		Session: sess,
	}

	_, cliErr, _, srvErr := runPair(t, serverCfg, clientCfg)
	require.Error(t, cliErr)
	assert.True(t, protoerr.IsNonRecoverable(cliErr))
	// The server never receives a client response frame at all, since
	// the client aborts before sending one; the client's Close also
	// closes the server's end of the pipe, so RunServer's pending read
	// ends with a (non-fatal) transport-closed error.
	_ = srvErr
}

// TestHandshakeV2HashPinRejectsTamperedServerHello covers the mixed
// pin-set case: the client holds the real server's full root key
// locally (a PinKey entry) but a second, unrelated pin entry keeps
// PinSet.RequiresFullKey false, so the server still delivers only the
// 32-byte SHA-256 (hash-delivery mode). An attacker who knows that
// hash (it is not secret) substitutes forged ephemeral keys and an
// all-zero signature; since the client's pin set does carry the
// matching full key, it must still verify sigClassic/sigPQ against it
// and reject the forgery rather than accepting on hash match alone.
func TestHandshakeV2HashPinRejectsTamperedServerHello(t *testing.T) {
	root := newRootIdentity(t)
	sess := newSessionIdentity(t)

	clientCfg := handshake.ClientConfig{
		PinSet: handshake.PinSet{
			handshake.PinFullKey(root.PublicBytes()),
			handshake.PinHashOf([]byte("unrelated decoy identity")),
		},
		V1Mode:  handshake.V1Disabled,
		Session: sess,
	}

	clientT, attackerT := pipetransport.Pair()

	frames := make(chan []byte, 4)
	attackerT.OnReceive(func(f []byte) { frames <- f })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var attackerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-frames: // discard the client's initial packet
		case <-ctx.Done():
			return
		}

		forgedX25519, err := cryptoprim.GenerateX25519()
		if err != nil {
			attackerErr = err
			return
		}
		forgedKyberPub, _, err := cryptoprim.GenerateKyber1024()
		if err != nil {
			attackerErr = err
			return
		}
		forgedHello, err := wire.EncodeV2ServerHelloEncrypted(wire.V2ServerHelloEncrypted{
			X25519Pub:   forgedX25519.PublicBytes(),
			KyberPub:    cryptoprim.PackKyberPublicKey(forgedKyberPub),
			SigClassic:  make([]byte, wire.Ed25519SigSize),
			SigPQ:       make([]byte, wire.SigPQSize),
			Challenge:   make([]byte, wire.ChallengeSize),
			PinMaterial: cryptoprim.SHA256(root.PublicBytes()), // the real hash, publicly computable
		})
		if err != nil {
			attackerErr = err
			return
		}
		frame := wire.Concat([]byte{byte(wire.TagHandshake), wire.HSStepServerHello, wire.ServerHelloModeEncrypted}, forgedHello)
		attackerErr = attackerT.Send(frame)
	}()

	_, cliErr := handshake.RunClient(ctx, clientT, clientCfg)
	<-done
	require.NoError(t, attackerErr)
	require.Error(t, cliErr)
	assert.True(t, protoerr.IsNonRecoverable(cliErr))
}

