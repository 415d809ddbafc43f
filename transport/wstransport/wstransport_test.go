package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := NewUpgrader(func(r *http.Request) bool { return true })
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wt, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		wt.OnReceive(func(frame []byte) {
			_ = wt.Send(frame)
		})
	})
	return httptest.NewServer(mux)
}

func TestDialSendReceiveRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, url, 5*time.Second)
	require.NoError(t, err)
	defer client.Close(true, "test done")

	received := make(chan []byte, 1)
	client.OnReceive(func(frame []byte) { received <- frame })

	require.NoError(t, client.Send([]byte("hello protov2d")))

	select {
	case got := <-received:
		require.Equal(t, "hello protov2d", string(got))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestCloseFiresOnCloseOnce(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, url, 5*time.Second)
	require.NoError(t, err)

	var mu sync.Mutex
	fireCount := 0
	client.OnClose(func(explicit bool, reason string) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	client.Close(true, "bye")
	client.Close(true, "bye again")

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fireCount)
	require.True(t, client.Closed())
}
