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

func TestEstablishFreshThenResumeSameObject(t *testing.T) {
	mgr := session.NewManager(testConfig())
	sessionPub := []byte("resume-test-pub")
	key := []byte("abcdefghijklmnopqrstuvwxyz012345")
	out := session.Outcome{SessionPub: sessionPub, ProtocolVersion: 2, KeyStack: [][]byte{key}}

	t1, _ := pipetransport.Pair()
	sess1, isNew1 := mgr.Establish(context.Background(), out, t1)
	require.True(t, isNew1)

	t2, _ := pipetransport.Pair()
	sess2, isNew2 := mgr.Establish(context.Background(), out, t2)
	assert.False(t, isNew2)
	assert.Same(t, sess1, sess2)
}

func TestResumeRearmsOutstandingQoS1(t *testing.T) {
	clientMgr := session.NewManager(testConfig())
	serverMgr := session.NewManager(testConfig())
	sessionPub := []byte("resume-rearm-pub")
	key := []byte("abcdefghijklmnopqrstuvwxyz012345")

	clientOut := session.Outcome{SessionPub: sessionPub, ProtocolVersion: 2, KeyStack: [][]byte{key}, ClientSide: true}
	serverOut := session.Outcome{SessionPub: sessionPub, ProtocolVersion: 2, KeyStack: [][]byte{key}, ClientSide: false}

	ct1, st1 := pipetransport.Pair()
	clientSess, _ := clientMgr.Establish(context.Background(), clientOut, ct1)
	serverSess, _ := serverMgr.Establish(context.Background(), serverOut, st1)

	var delivered int
	done := make(chan struct{}, 1)
	serverSess.OnData = func(p []byte) {
		delivered++
		select {
		case done <- struct{}{}:
		default:
		}
	}

	// Kill the transport before the server ever acks, so the send is
	// still outstanding when the client "reconnects" on a fresh pipe.
	ct1.Close(true, "simulated drop")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = clientSess.SendQoS1(ctx, []byte("survives-reconnect"))
	}()

	time.Sleep(50 * time.Millisecond)

	ct2, st2 := pipetransport.Pair()
	clientMgr.Establish(context.Background(), clientOut, ct2)
	serverMgr.Establish(context.Background(), serverOut, st2)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("payload never redelivered after resume")
	}
	assert.Equal(t, 1, delivered)
}
