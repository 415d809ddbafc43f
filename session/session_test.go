package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/protov2d/session"
	"github.com/sage-x-project/protov2d/transport/pipetransport"
)

func testConfig() session.Config {
	return session.Config{
		AckTimeout:    200 * time.Millisecond,
		PingInterval:  time.Hour, // quiet for these tests
		PingTimeout:   time.Hour,
		AvgPingCount:  4,
		StreamTimeout: time.Second,
	}
}

func establishPair(t *testing.T) (clientMgr, serverMgr *session.Manager, clientSess, serverSess *session.Session) {
	t.Helper()
	clientMgr = session.NewManager(testConfig())
	serverMgr = session.NewManager(testConfig())

	ct, st := pipetransport.Pair()
	sessionPub := []byte("test-session-pub-0123456789abcdef")
	key := []byte("abcdefghijklmnopqrstuvwxyz012345")

	clientOut := session.Outcome{SessionPub: sessionPub, ProtocolVersion: 2, KeyStack: [][]byte{key}, ClientSide: true}
	serverOut := session.Outcome{SessionPub: sessionPub, ProtocolVersion: 2, KeyStack: [][]byte{key}, ClientSide: false}

	clientSess, _ = clientMgr.Establish(context.Background(), clientOut, ct)
	serverSess, _ = serverMgr.Establish(context.Background(), serverOut, st)
	return
}

func TestQoS0DeliveredOnce(t *testing.T) {
	_, _, clientSess, serverSess := establishPair(t)

	got := make(chan []byte, 1)
	serverSess.OnData = func(p []byte) { got <- p }

	require.NoError(t, clientSess.SendQoS0([]byte("hello")))

	select {
	case p := <-got:
		assert.Equal(t, []byte("hello"), p)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestQoS1DeliveredAndAcked(t *testing.T) {
	_, _, clientSess, serverSess := establishPair(t)

	got := make(chan []byte, 1)
	serverSess.OnData = func(p []byte) { got <- p }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := clientSess.SendQoS1(ctx, []byte("reliable"))
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, []byte("reliable"), p)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestQoS1SingleSendDeliveredOnce(t *testing.T) {
	_, _, clientSess, serverSess := establishPair(t)

	var deliveries int
	done := make(chan struct{})
	serverSess.OnData = func(p []byte) {
		deliveries++
		select {
		case done <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clientSess.SendQoS1(ctx, []byte("once")))
	<-done

	// Resend the identical (already-acked) dupID is not something the
	// public API exposes directly, so this test asserts the observed
	// single-delivery invariant for the one send performed.
	assert.Equal(t, 1, deliveries)
}

func TestGracefulCloseTearsDownBothSides(t *testing.T) {
	_, _, clientSess, serverSess := establishPair(t)

	closed := make(chan string, 1)
	serverSess.OnClosed = func(reason string) { closed <- reason }

	clientSess.Close("bye")

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("server session never closed")
	}
	assert.True(t, clientSess.Closed())
}
