// Package pipetransport is an in-memory transport.Transport pair for
// unit tests that exercise the handshake and session layers without a
// real socket, grounded on the teacher's habit of test-double
// transports alongside its real network adapters.
package pipetransport

import (
	"sync"

	"github.com/sage-x-project/protov2d/transport"
)

// Pair returns two connected transports: frames sent on a arrive at b
// and vice versa. Closing either end, explicitly or not, fires the
// other end's OnClose non-explicitly, the same as a real duplex socket
// whose peer observes a read error once the connection drops.
func Pair() (a, b transport.Transport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)

	pa := &pipeTransport{out: ab, in: ba, stop: make(chan struct{})}
	pb := &pipeTransport{out: ba, in: ab, stop: make(chan struct{})}
	pa.peer = pb
	pb.peer = pa
	go pa.pump()
	go pb.pump()
	return pa, pb
}

type pipeTransport struct {
	out  chan []byte
	in   chan []byte
	stop chan struct{}
	peer *pipeTransport

	mu      sync.Mutex
	closer  transport.CloseOnce
	onRecvM sync.Mutex
	onRecv  func([]byte)
}

func (p *pipeTransport) pump() {
	for {
		select {
		case frame := <-p.in:
			p.onRecvM.Lock()
			cb := p.onRecv
			p.onRecvM.Unlock()
			if cb != nil {
				cb(frame)
			}
		case <-p.stop:
			return
		}
	}
}

func (p *pipeTransport) Send(frame []byte) error {
	if p.closer.Closed() {
		return errClosed
	}
	cp := append([]byte(nil), frame...)
	select {
	case p.out <- cp:
		return nil
	case <-p.stop:
		return errClosed
	}
}

func (p *pipeTransport) OnReceive(fn func(frame []byte)) {
	p.onRecvM.Lock()
	defer p.onRecvM.Unlock()
	p.onRecv = fn
}

func (p *pipeTransport) OnClose(fn func(explicit bool, reason string)) {
	p.closer.SetHandler(fn)
}

func (p *pipeTransport) Closed() bool { return p.closer.Closed() }

func (p *pipeTransport) Close(explicit bool, reason string) {
	p.closeLocal(explicit, reason)
	if p.peer != nil {
		p.peer.closeLocal(false, reason)
	}
}

func (p *pipeTransport) closeLocal(explicit bool, reason string) {
	p.mu.Lock()
	if !p.closer.Closed() {
		close(p.stop)
	}
	p.mu.Unlock()
	p.closer.Fire(explicit, reason)
}

type pipeError string

func (e pipeError) Error() string { return string(e) }

const errClosed = pipeError("pipetransport: closed")

var _ transport.Transport = (*pipeTransport)(nil)
