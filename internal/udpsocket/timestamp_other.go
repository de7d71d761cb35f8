//go:build !linux

package udpsocket

import (
	"net"

	"github.com/lanikai/rtcendpoint/internal/reactor"
)

// enableTimestamps is a no-op on platforms without SO_TIMESTAMP support;
// readFrom falls back to the reactor clock.
func (s *Socket) enableTimestamps() {}

// readFrom reads one datagram, using the reactor clock as the receive
// timestamp since this platform has no ancillary-data timestamp support.
func (s *Socket) readFrom(buf []byte) (n int, addr *net.UDPAddr, recvUs int64, err error) {
	n, addr, err = s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, 0, err
	}
	return n, addr, reactor.Now() * 1000, nil
}
