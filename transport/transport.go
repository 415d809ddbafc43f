// Package transport defines the Frame Transport Adapter boundary
// (spec.md §4.1): any reliable, ordered, duplex byte-frame channel that
// can deliver exactly one Receive callback per inbound frame and
// notify Close exactly once, idempotently, regardless of how many
// times the underlying carrier reports closure.
//
// Per spec.md §9's design note, the JS-source event-emitter pattern is
// re-expressed here as explicit callback registration rather than
// dynamic string-keyed dispatch.
package transport

import "sync"

// Transport is the boundary the handshake and session layers program
// against. Implementations (wstransport, pipetransport) own the actual
// carrier; callers never see dial/accept details.
type Transport interface {
	// Send writes one frame. Backpressure is the transport's concern;
	// Send may block but must not silently drop data.
	Send(frame []byte) error

	// OnReceive registers the callback invoked once per inbound frame,
	// with the exact payload bytes (string frames already UTF-8
	// decoded by the implementation). Only one callback is retained;
	// registering again replaces it.
	OnReceive(fn func(frame []byte))

	// OnClose registers the callback invoked exactly once when the
	// transport closes. explicit is the value the local Close call
	// passed, or false when the carrier (or the peer) closed on its own.
	OnClose(fn func(explicit bool, reason string))

	// Close closes the transport and fires OnClose's callback exactly
	// once, even if called multiple times or concurrently with a
	// carrier-initiated close.
	Close(explicit bool, reason string)

	// Closed reports whether the transport has already closed.
	Closed() bool
}

// CloseOnce gives Transport implementations a single idempotent close
// notification, so a duplicate underlying close event (e.g. gorilla's
// read-loop error racing an explicit local Close) never double-fires.
type CloseOnce struct {
	mu       sync.Mutex
	once     sync.Once
	fn       func(explicit bool, reason string)
	closed   bool
	closedMu sync.RWMutex
}

// SetHandler stores the close callback.
func (c *CloseOnce) SetHandler(fn func(explicit bool, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
}

// Fire invokes the registered handler exactly once across the
// lifetime of this CloseOnce, across however many times Fire is called.
func (c *CloseOnce) Fire(explicit bool, reason string) {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.mu.Lock()
		fn := c.fn
		c.mu.Unlock()
		if fn != nil {
			fn(explicit, reason)
		}
	})
}

// Closed reports whether Fire has already run.
func (c *CloseOnce) Closed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}
