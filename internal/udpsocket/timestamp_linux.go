//go:build linux

package udpsocket

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/lanikai/rtcendpoint/internal/reactor"
)

// enableTimestamps turns on SO_TIMESTAMP so readFrom can recover kernel
// receive timestamps via ancillary (control) data.
func (s *Socket) enableTimestamps() {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1)
	})
}

// readFrom reads one datagram, preferring the kernel SO_TIMESTAMP ancillary
// data (microsecond resolution) over the reactor clock when available, per
// spec.md §4.2.
func (s *Socket) readFrom(buf []byte) (n int, addr *net.UDPAddr, recvUs int64, err error) {
	oob := make([]byte, unix.CmsgSpace(16))

	n, oobn, _, rAddr, err := s.conn.ReadMsgUDP(buf, oob)
	if err != nil {
		return 0, nil, 0, err
	}

	recvUs = reactor.Now() * 1000
	if oobn > 0 {
		if ts, ok := parseTimestamp(oob[:oobn]); ok {
			recvUs = ts
		}
	}

	return n, rAddr, recvUs, nil
}

func parseTimestamp(oob []byte) (int64, bool) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch m.Header.Type {
		case unix.SO_TIMESTAMP:
			if len(m.Data) < 16 {
				continue
			}
			tv := (*unix.Timeval)(nil)
			_ = tv
			sec := int64(hostByteOrderUint64(m.Data[0:8]))
			usec := int64(hostByteOrderUint64(m.Data[8:16]))
			return sec*1_000_000 + usec, true
		}
	}
	return 0, false
}

func hostByteOrderUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
