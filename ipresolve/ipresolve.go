// Package ipresolve implements spec.md §6's proxy-chain IP resolution:
// given X-Forwarded-For entries plus the transport's own remote
// address, walk from the trusted end inward and return the first
// untrusted hop.
package ipresolve

import (
	"net"
	"net/http"
	"strings"
)

// TrustProxy mirrors spec.md's `trustProxy` option: either disabled,
// unconditionally trusted (leftmost XFF entry wins), or a list of
// trusted proxy CIDRs walked from the trusted end inward.
type TrustProxy struct {
	Always bool
	CIDRs  []*net.IPNet
}

// ParseCIDRs parses a list of CIDR strings into a TrustProxy's CIDR set.
func ParseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ipnet)
	}
	return out, nil
}

// RealIP resolves the real client IP for an inbound request given the
// transport's own remote address and the configured trust policy.
//
//   - trustProxy disabled (zero value): always the transport's address.
//   - trustProxy always-trusted: the leftmost X-Forwarded-For entry.
//   - trustProxy CIDR list: walk the XFF chain from the trusted end
//     (closest to the transport) inward, advancing while the current
//     hop's IP lies inside a trusted CIDR; return the first untrusted
//     hop, or the leftmost X-Forwarded-For entry if every hop after it
//     is trusted (the leftmost entry itself is never checked).
func RealIP(xffHeader string, remoteAddr string, policy TrustProxy) string {
	remoteIP := hostOnly(remoteAddr)

	if !policy.Always && len(policy.CIDRs) == 0 {
		return remoteIP
	}

	entries := splitForwardedFor(xffHeader)
	if len(entries) == 0 {
		return remoteIP
	}

	if policy.Always {
		return entries[0]
	}

	// Walk from the trusted end (closest to us, i.e. the last entry,
	// which is what the nearest proxy appended) inward toward the
	// original client (the first entry).
	chain := append(append([]string{}, entries...), remoteIP)
	for i := len(chain) - 1; i > 0; i-- {
		if !isTrusted(chain[i], policy.CIDRs) {
			return chain[i]
		}
	}
	return chain[0]
}

// RealIPFromRequest is a convenience wrapper reading the standard
// X-Forwarded-For header and r.RemoteAddr.
func RealIPFromRequest(r *http.Request, policy TrustProxy) string {
	return RealIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr, policy)
}

func isTrusted(ip string, cidrs []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, c := range cidrs {
		if c.Contains(parsed) {
			return true
		}
	}
	return false
}

func splitForwardedFor(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
