package pipetransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairEchoesBothDirections(t *testing.T) {
	a, b := Pair()

	gotOnB := make(chan []byte, 1)
	b.OnReceive(func(frame []byte) { gotOnB <- frame })

	require.NoError(t, a.Send([]byte("hello")))

	select {
	case f := <-gotOnB:
		assert.Equal(t, []byte("hello"), f)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, _ := Pair()

	var calls int
	a.OnClose(func(explicit bool, reason string) {
		calls++
		assert.True(t, explicit)
		assert.Equal(t, "bye", reason)
	})

	a.Close(true, "bye")
	a.Close(true, "bye")
	assert.Equal(t, 1, calls)
	assert.True(t, a.Closed())
}
