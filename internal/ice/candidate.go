package ice

import (
	"fmt"
	"hash/crc32"
	"net"
)

// Candidate types, per spec.md §3.
const (
	TypeHost = "host"
	TypePrflx = "prflx"
)

const (
	typePreferenceHost  = 126
	typePreferencePrflx = 110
)

// Candidate is a transport address usable for a peer's side of a connection,
// per spec.md §3.
type Candidate struct {
	Component int
	Protocol  string // always "udp"
	Addr      *net.UDPAddr
	Priority  uint32
	Username  string
	Password  string
	Type      string // host | prflx
	Foundation string
}

// NewHostCandidate builds a host candidate for a locally bound address.
func NewHostCandidate(addr *net.UDPAddr, component int) Candidate {
	c := Candidate{
		Component: component,
		Protocol:  "udp",
		Addr:      addr,
		Type:      TypeHost,
	}
	c.Priority = computePriority(typePreferenceHost, 65535, component)
	c.Foundation = computeFoundation(c.Type, addr.IP.String(), c.Protocol, "")
	return c
}

// NewPeerReflexiveCandidate builds a candidate learned from a STUN binding
// request arriving from a previously unknown address, per spec.md §4.5. The
// priority comes from the request's PRIORITY attribute, not recomputed.
func NewPeerReflexiveCandidate(addr *net.UDPAddr, component int, priority uint32) Candidate {
	c := Candidate{
		Component: component,
		Protocol:  "udp",
		Addr:      addr,
		Type:      TypePrflx,
		Priority:  priority,
	}
	c.Foundation = computeFoundation(c.Type, addr.IP.String(), c.Protocol, "")
	return c
}

// computePriority implements spec.md §3:
//   priority = (type_pref<<24) | (local_pref<<8) | (256 - component)
func computePriority(typePref uint32, localPref uint32, component int) uint32 {
	return (typePref << 24) | ((localPref & 0xFFFF) << 8) | uint32(256-component)
}

// computeFoundation implements spec.md §3:
//   foundation = CRC32 over ("type" || host-as-uri || protocol || relay_protocol)
func computeFoundation(typ, hostURI, protocol, relayProtocol string) string {
	s := typ + hostURI + protocol + relayProtocol
	return fmt.Sprintf("%d", crc32.ChecksumIEEE([]byte(s)))
}

// PairPriority implements RFC5245 §5.7.2:
//   2^32*min(G,D) + 2*max(G,D) + (G>D ? 1 : 0)
// where G is the controlling agent's priority and D is the controlled
// agent's, per spec.md §4.5.
func PairPriority(g, d uint32) uint64 {
	lo, hi := uint64(g), uint64(d)
	if lo > hi {
		lo, hi = hi, lo
	}
	var tiebreak uint64
	if g > d {
		tiebreak = 1
	}
	return (uint64(1)<<32)*lo + 2*hi + tiebreak
}
