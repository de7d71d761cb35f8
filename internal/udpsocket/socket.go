// Package udpsocket owns a bound UDP file descriptor and delivers
// (payload, peer address, receive timestamp) events to a reactor, per
// spec.md §4.2. Grounded in the teacher's internal/ice/base.go, which already
// owns a *net.UDPConn and a dedicated read-loop goroutine; this package pulls
// that concern out into its own type, which hands datagrams to the reactor
// given to Listen.
package udpsocket

import (
	"net"

	"github.com/lanikai/rtcendpoint/internal/reactor"
)

// MaxDatagramSize is the receive buffer cap from spec.md §4.2.
const MaxDatagramSize = 1500

// Packet is one received UDP datagram.
type Packet struct {
	Payload   []byte
	Addr      *net.UDPAddr
	RecvTimeUs int64 // microseconds, kernel timestamp when available
}

// Socket wraps a bound UDP connection. Reads happen on a dedicated goroutine
// (net.UDPConn has no portable non-blocking readiness signal in Go) which
// hands each datagram to the owning reactor via Post, preserving the
// single-goroutine-touches-peer-state property.
type Socket struct {
	conn   *net.UDPConn
	r      *reactor.Reactor
	onRecv func(Packet)

	closeOnce chan struct{}
}

// Listen binds a new UDP socket on the given local address ("" for any,
// 0 for an ephemeral port) and starts draining it on a background goroutine.
// onRecv is invoked on the reactor's goroutine for every received datagram.
func Listen(r *reactor.Reactor, laddr *net.UDPAddr, onRecv func(Packet)) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:      conn,
		r:         r,
		onRecv:    onRecv,
		closeOnce: make(chan struct{}),
	}

	s.enableTimestamps()

	go s.readLoop()

	return s, nil
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// WriteTo is a best-effort send: short writes and EAGAIN are not retried or
// queued, matching spec.md §4.2 ("upper layers accept loss").
func (s *Socket) WriteTo(b []byte, addr *net.UDPAddr) {
	_, _ = s.conn.WriteToUDP(b, addr)
}

// Close releases the underlying file descriptor. The read-loop goroutine
// exits once its pending Read call returns an error.
func (s *Socket) Close() error {
	select {
	case <-s.closeOnce:
		return nil
	default:
		close(s.closeOnce)
	}
	return s.conn.Close()
}

// readLoop drains the socket in a loop until the connection is closed,
// reading the kernel receive timestamp when the platform supports it and
// falling back to the reactor clock otherwise.
func (s *Socket) readLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, recvUs, err := s.readFrom(buf)
		if err != nil {
			return
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		pkt := Packet{Payload: payload, Addr: addr, RecvTimeUs: recvUs}
		s.r.Post(func() {
			select {
			case <-s.closeOnce:
				return
			default:
			}
			s.onRecv(pkt)
		})
	}
}
