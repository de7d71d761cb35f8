package stun

import (
	"encoding/binary"
	"net"
)

const familyIPv4 = 0x01
const familyIPv6 = 0x02

// SetXorMappedAddress adds an XOR-MAPPED-ADDRESS attribute for addr, XORed
// against the magic cookie (and, for IPv6, the transaction ID) per RFC5389
// §15.2.
func (m *Message) SetXorMappedAddress(addr *net.UDPAddr) {
	ip4 := addr.IP.To4()
	var v []byte
	if ip4 != nil {
		v = make([]byte, 8)
		v[1] = familyIPv4
		binary.BigEndian.PutUint16(v[2:4], uint16(addr.Port))
		copy(v[4:8], ip4)
		xorBytes(v[2:4], magicCookieBytes[0:2])
		xorBytes(v[4:8], magicCookieBytes)
	} else {
		ip16 := addr.IP.To16()
		v = make([]byte, 20)
		v[1] = familyIPv6
		binary.BigEndian.PutUint16(v[2:4], uint16(addr.Port))
		copy(v[4:20], ip16)
		xorBytes(v[2:4], magicCookieBytes[0:2])
		full := append(append([]byte{}, magicCookieBytes...), m.TransactionID[:]...)
		xorBytes(v[4:20], full)
	}
	m.AddAttribute(AttrXorMappedAddress, v)
}

// XorMappedAddress extracts and un-XORs the XOR-MAPPED-ADDRESS attribute, if
// present.
func (m *Message) XorMappedAddress() *net.UDPAddr {
	a := m.Get(AttrXorMappedAddress)
	if a == nil || len(a.Value) < 4 {
		return nil
	}
	v := append([]byte(nil), a.Value...)
	port := binary.BigEndian.Uint16(v[2:4]) ^ binary.BigEndian.Uint16(magicCookieBytes[0:2])

	switch v[1] {
	case familyIPv4:
		if len(v) < 8 {
			return nil
		}
		xorBytes(v[4:8], magicCookieBytes)
		return &net.UDPAddr{IP: net.IP(v[4:8]), Port: int(port)}
	case familyIPv6:
		if len(v) < 20 {
			return nil
		}
		full := append(append([]byte{}, magicCookieBytes...), m.TransactionID[:]...)
		xorBytes(v[4:20], full)
		return &net.UDPAddr{IP: net.IP(v[4:20]), Port: int(port)}
	default:
		return nil
	}
}

func xorBytes(buf, key []byte) {
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
}

// AddErrorCode appends an ERROR-CODE attribute with the given numeric code
// (e.g. 400, 401, 500) and reason phrase, per RFC5389 §15.6.
func (m *Message) AddErrorCode(code int, reason string) {
	class := byte(code / 100)
	number := byte(code % 100)
	v := append([]byte{0, 0, class, number}, []byte(reason)...)
	m.AddAttribute(AttrErrorCode, v)
}

// AddPriority appends a PRIORITY attribute.
func (m *Message) AddPriority(p uint32) {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], p)
	m.AddAttribute(AttrPriority, v[:])
}

// AddUsername appends a USERNAME attribute.
func (m *Message) AddUsername(u string) {
	m.AddAttribute(AttrUsername, []byte(u))
}

// AddUseCandidate appends a zero-length USE-CANDIDATE attribute.
func (m *Message) AddUseCandidate() {
	m.AddAttribute(AttrUseCandidate, nil)
}
