package ipresolve

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealIPDisabledReturnsTransportAddress(t *testing.T) {
	ip := RealIP("203.0.113.9", "198.51.100.1:443", TrustProxy{})
	assert.Equal(t, "198.51.100.1", ip)
}

func TestRealIPAlwaysTrustedReturnsLeftmostEntry(t *testing.T) {
	ip := RealIP("203.0.113.9, 10.0.0.1", "10.0.0.2:443", TrustProxy{Always: true})
	assert.Equal(t, "203.0.113.9", ip)
}

func TestRealIPWalksTrustedCIDRsInward(t *testing.T) {
	cidrs, err := ParseCIDRs([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	// remote (10.0.0.3) is trusted, nearest hop (10.0.0.2) is trusted,
	// next hop (203.0.113.9) is the first untrusted one.
	ip := RealIP("203.0.113.9, 10.0.0.2", "10.0.0.3:443", TrustProxy{CIDRs: cidrs})
	assert.Equal(t, "203.0.113.9", ip)
}

func TestRealIPAllHopsTrustedReturnsOriginalClient(t *testing.T) {
	cidrs, err := ParseCIDRs([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	ip := RealIP("10.0.0.1", "10.0.0.2:443", TrustProxy{CIDRs: cidrs})
	assert.Equal(t, "10.0.0.1", ip)
}

func TestRealIPEmptyForwardedForFallsBackToTransport(t *testing.T) {
	cidrs, err := ParseCIDRs([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	ip := RealIP("", "198.51.100.1:443", TrustProxy{CIDRs: cidrs})
	assert.Equal(t, "198.51.100.1", ip)
}

func TestRealIPFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.RemoteAddr = "10.0.0.2:443"

	cidrs, err := ParseCIDRs([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.9", RealIPFromRequest(req, TrustProxy{CIDRs: cidrs}))
}

func TestParseCIDRsRejectsInvalidEntry(t *testing.T) {
	_, err := ParseCIDRs([]string{"not-a-cidr"})
	assert.Error(t, err)
}
