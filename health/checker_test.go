package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAllHealthy(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("session_manager", SessionManagerHealthCheck(func() error { return nil }))

	status := h.GetOverallStatus(context.Background())
	assert.Equal(t, StatusHealthy, status)
}

func TestCheckUnhealthyPropagates(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("session_manager", SessionManagerHealthCheck(func() error { return errors.New("manager stopped") }))

	result, err := h.Check(context.Background(), "session_manager")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, StatusUnhealthy, h.GetOverallStatus(context.Background()))
}

func TestCheckNotFound(t *testing.T) {
	h := NewHealthChecker(time.Second)
	_, err := h.Check(context.Background(), "missing")
	assert.Error(t, err)
}

func TestHandlerReportsServiceUnavailableWhenUnhealthy(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.RegisterCheck("boom", SessionManagerHealthCheck(func() error { return errors.New("down") }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	h.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 503, rec.Code)

	var sys SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sys))
	assert.Equal(t, StatusUnhealthy, sys.Status)
}

func TestCacheServesStaleResultWithinTTL(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.SetCacheTTL(time.Minute)

	calls := 0
	h.RegisterCheck("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	_, err := h.Check(context.Background(), "counted")
	require.NoError(t, err)
	_, err = h.Check(context.Background(), "counted")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second call within TTL should be served from cache")

	h.ClearCache()
	_, err = h.Check(context.Background(), "counted")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
