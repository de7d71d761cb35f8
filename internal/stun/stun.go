// Package stun implements RFC5389 binding request/response messages with the
// ICE usage attributes from RFC5245/8445, per spec.md §4.3. Hand-rolled,
// grounded in the teacher's internal/ice/stun.go: the library in the example
// pack that covers this wire format (github.com/pion/stun/v3) builds messages
// through a generic Setter pipeline that doesn't expose "rewrite LENGTH to
// cover only bytes through MESSAGE-INTEGRITY, HMAC, then rewrite again to
// include FINGERPRINT" as a primitive -- exactly the byte-level control the
// teacher's own hand-rolled codec gives for free, so that approach is kept.
package stun

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Message classes (RFC5389 §6), as the two-bit class value that
// messageType scatters into bits C0/C1 of the message type.
const (
	ClassRequest        uint16 = 0x0
	ClassIndication     uint16 = 0x1
	ClassSuccessResponse uint16 = 0x2
	ClassErrorResponse  uint16 = 0x3
)

// The only method this package implements.
const MethodBinding uint16 = 0x001

// Attribute types used by this package.
const (
	AttrMappedAddress    uint16 = 0x0001
	AttrUsername         uint16 = 0x0006
	AttrMessageIntegrity uint16 = 0x0008
	AttrErrorCode        uint16 = 0x0009
	AttrUnknownAttrs     uint16 = 0x000A
	AttrXorMappedAddress uint16 = 0x0020
	AttrPriority         uint16 = 0x0024
	AttrUseCandidate     uint16 = 0x0025
	AttrSoftware         uint16 = 0x8022
	AttrFingerprint      uint16 = 0x8028
	AttrIceControlling   uint16 = 0x802A
	AttrIceControlled    uint16 = 0x802B
)

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = []byte{0x21, 0x12, 0xA4, 0x42}
var fingerprintXor = uint32(0x5354554E)

// Message is a parsed STUN message.
type Message struct {
	Class         uint16
	Method        uint16
	TransactionID [12]byte
	Attributes    []Attribute
}

// Attribute is a raw, unparsed STUN attribute TLV.
type Attribute struct {
	Type  uint16
	Value []byte
}

// ErrNotSTUN is returned by Parse when the buffer's fingerprint (or basic
// header shape) does not look like a STUN message at all.
var ErrNotSTUN = fmt.Errorf("stun: not a STUN message")

// New creates a message with a fresh random 12-byte transaction ID.
func New(class, method uint16) *Message {
	m := &Message{Class: class, Method: method}
	_, _ = rand.Read(m.TransactionID[:])
	return m
}

// NewWithTransactionID creates a message using the given transaction ID,
// e.g. to build the response to a specific request.
func NewWithTransactionID(class, method uint16, tid [12]byte) *Message {
	return &Message{Class: class, Method: method, TransactionID: tid}
}

// AddAttribute appends a copy of a raw attribute value.
func (m *Message) AddAttribute(t uint16, v []byte) {
	m.Attributes = append(m.Attributes, Attribute{Type: t, Value: append([]byte(nil), v...)})
}

// Get returns the first attribute of the given type, or nil.
func (m *Message) Get(t uint16) *Attribute {
	for i := range m.Attributes {
		if m.Attributes[i].Type == t {
			return &m.Attributes[i]
		}
	}
	return nil
}

// Username returns the USERNAME attribute value as a string, or "".
func (m *Message) Username() string {
	if a := m.Get(AttrUsername); a != nil {
		return string(a.Value)
	}
	return ""
}

// Priority returns the PRIORITY attribute's uint32 value and whether it was
// present.
func (m *Message) Priority() (uint32, bool) {
	a := m.Get(AttrPriority)
	if a == nil || len(a.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(a.Value), true
}

// HasUseCandidate reports whether the USE-CANDIDATE attribute is present.
func (m *Message) HasUseCandidate() bool {
	return m.Get(AttrUseCandidate) != nil
}

// ErrorCode returns the numeric code from an ERROR-CODE attribute, if present.
func (m *Message) ErrorCode() (int, bool) {
	a := m.Get(AttrErrorCode)
	if a == nil || len(a.Value) < 4 {
		return 0, false
	}
	class := int(a.Value[2])
	number := int(a.Value[3])
	return class*100 + number, true
}

func messageType(class, method uint16) uint16 {
	// RFC5389 Figure 3: class bits are scattered into the method field.
	t := (method & 0x0f) | ((method & 0x70) << 1) | ((method & 0xf80) << 2)
	t |= (class & 0x1) << 4
	t |= (class & 0x2) << 7
	return t
}

func decomposeType(t uint16) (class, method uint16) {
	method = (t & 0x000f) | ((t & 0x00e0) >> 1) | ((t & 0x3e00) >> 2)
	class = ((t & 0x0010) >> 4) | ((t & 0x0100) >> 7)
	return
}

// Parse checks the header shape and then requires a valid trailing
// FINGERPRINT attribute before decoding any attributes, returning ErrNotSTUN
// when either check fails (a message without FINGERPRINT is rejected), per
// spec.md §4.3 ("Validate before any other processing; on mismatch, treat
// as non-STUN").
func Parse(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, ErrNotSTUN
	}

	rawType := binary.BigEndian.Uint16(data[0:2])
	if rawType&0xC000 != 0 {
		return nil, ErrNotSTUN
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if int(length)%4 != 0 {
		return nil, ErrNotSTUN
	}
	if binary.BigEndian.Uint32(data[4:8]) != magicCookie {
		return nil, ErrNotSTUN
	}
	if headerLength+int(length) > len(data) {
		return nil, ErrNotSTUN
	}

	if !ValidateFingerprint(data[:headerLength+int(length)]) {
		return nil, ErrNotSTUN
	}

	class, method := decomposeType(rawType)
	m := &Message{Class: class, Method: method}
	copy(m.TransactionID[:], data[8:20])

	body := data[20 : 20+int(length)]
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, fmt.Errorf("stun: truncated attribute header")
		}
		at := binary.BigEndian.Uint16(body[0:2])
		al := binary.BigEndian.Uint16(body[2:4])
		if int(al) > len(body)-4 {
			return nil, fmt.Errorf("stun: truncated attribute value")
		}
		val := make([]byte, al)
		copy(val, body[4:4+int(al)])
		m.Attributes = append(m.Attributes, Attribute{Type: at, Value: val})
		body = body[4+int(al)+pad4(al):]
	}

	return m, nil
}

func pad4(n uint16) int {
	return int(-n & 3)
}

// ValidateFingerprint returns false if data is too short to hold a FINGERPRINT
// attribute or the CRC32 does not match -- always without reading past the
// supplied buffer, per spec.md §8 ("Fingerprint check on a 19-byte packet
// returns false without reading past the buffer").
func ValidateFingerprint(data []byte) bool {
	if len(data) < headerLength+8 {
		return false
	}
	// The FINGERPRINT attribute, if present, must be the final attribute.
	fpOffset := len(data) - 8
	if binary.BigEndian.Uint16(data[fpOffset:fpOffset+2]) != AttrFingerprint {
		return false
	}
	if binary.BigEndian.Uint16(data[fpOffset+2:fpOffset+4]) != 4 {
		return false
	}
	want := binary.BigEndian.Uint32(data[fpOffset+4 : fpOffset+8])
	got := crc32.ChecksumIEEE(data[:fpOffset]) ^ fingerprintXor
	return got == want
}

// Marshal serializes the message, including any attributes already added.
// Callers add MESSAGE-INTEGRITY and FINGERPRINT via AddMessageIntegrity and
// AddFingerprint before calling Marshal, in that order.
func (m *Message) Marshal() []byte {
	var body bytes.Buffer
	for _, a := range m.Attributes {
		writeAttr(&body, a.Type, a.Value)
	}

	buf := make([]byte, headerLength+body.Len())
	binary.BigEndian.PutUint16(buf[0:2], messageType(m.Class, m.Method))
	binary.BigEndian.PutUint16(buf[2:4], uint16(body.Len()))
	binary.BigEndian.PutUint32(buf[4:8], magicCookie)
	copy(buf[8:20], m.TransactionID[:])
	copy(buf[20:], body.Bytes())
	return buf
}

func writeAttr(b *bytes.Buffer, t uint16, v []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], t)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(v)))
	b.Write(hdr[:])
	b.Write(v)
	if p := pad4(uint16(len(v))); p > 0 {
		b.Write(make([]byte, p))
	}
}

// AddMessageIntegrity computes HMAC-SHA1-20 over the message as it would be
// serialized up through (and including) this attribute -- with the LENGTH
// header field temporarily set to reflect only those bytes, per spec.md §4.3
// -- and appends MESSAGE-INTEGRITY. key is the relevant ICE password.
func (m *Message) AddMessageIntegrity(key string) {
	// Serialize everything added so far, then pretend the message ends right
	// after a placeholder MESSAGE-INTEGRITY attribute, per the RFC's
	// requirement that LENGTH cover only bytes up to the attribute being
	// authenticated.
	var body bytes.Buffer
	for _, a := range m.Attributes {
		writeAttr(&body, a.Type, a.Value)
	}
	// Placeholder MI attribute contributes 4 (header) + 20 (HMAC-SHA1 size).
	lengthWithMI := body.Len() + 24

	hdr := make([]byte, headerLength)
	binary.BigEndian.PutUint16(hdr[0:2], messageType(m.Class, m.Method))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(lengthWithMI))
	binary.BigEndian.PutUint32(hdr[4:8], magicCookie)
	copy(hdr[8:20], m.TransactionID[:])

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write(hdr)
	mac.Write(body.Bytes())
	sum := mac.Sum(nil)

	m.AddAttribute(AttrMessageIntegrity, sum)
}

// VerifyMessageIntegrity recomputes the HMAC over the raw wire bytes using
// key and compares it to the MESSAGE-INTEGRITY attribute. raw is the
// complete, still-serialized message as received (so that any bytes after
// MESSAGE-INTEGRITY, such as FINGERPRINT, can be located and excluded).
func VerifyMessageIntegrity(raw []byte, key string) bool {
	idx, miValue := findAttribute(raw, AttrMessageIntegrity)
	if idx < 0 || len(miValue) != 20 {
		return false
	}

	// LENGTH must be rewritten to cover bytes up through this attribute,
	// exactly as when it was added.
	lengthThroughMI := (idx - headerLength) + 24

	hdr := make([]byte, headerLength)
	copy(hdr, raw[:headerLength])
	binary.BigEndian.PutUint16(hdr[2:4], uint16(lengthThroughMI))

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write(hdr)
	mac.Write(raw[headerLength:idx])
	sum := mac.Sum(nil)

	return hmac.Equal(sum, miValue)
}

// findAttribute scans the raw wire bytes of a STUN message for the first
// attribute of type t, returning the byte offset of its header and its value,
// or (-1, nil) if absent or the buffer is malformed.
func findAttribute(raw []byte, t uint16) (offset int, value []byte) {
	if len(raw) < headerLength {
		return -1, nil
	}
	length := binary.BigEndian.Uint16(raw[2:4])
	end := headerLength + int(length)
	if end > len(raw) {
		end = len(raw)
	}
	body := raw[headerLength:end]
	pos := headerLength
	for len(body) >= 4 {
		at := binary.BigEndian.Uint16(body[0:2])
		al := binary.BigEndian.Uint16(body[2:4])
		if int(al) > len(body)-4 {
			return -1, nil
		}
		if at == t {
			return pos, body[4 : 4+int(al)]
		}
		adv := 4 + int(al) + pad4(al)
		body = body[adv:]
		pos += adv
	}
	return -1, nil
}

// AddFingerprint computes the CRC32 FINGERPRINT attribute over the message
// serialized so far (with LENGTH covering those bytes plus this attribute)
// and appends it, per spec.md §4.3. Must be called last, after
// AddMessageIntegrity.
func (m *Message) AddFingerprint() {
	var body bytes.Buffer
	for _, a := range m.Attributes {
		writeAttr(&body, a.Type, a.Value)
	}
	lengthWithFP := body.Len() + 8

	hdr := make([]byte, headerLength)
	binary.BigEndian.PutUint16(hdr[0:2], messageType(m.Class, m.Method))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(lengthWithFP))
	binary.BigEndian.PutUint32(hdr[4:8], magicCookie)
	copy(hdr[8:20], m.TransactionID[:])

	sum := crc32.NewIEEE()
	sum.Write(hdr)
	sum.Write(body.Bytes())
	fp := sum.Sum32() ^ fingerprintXor

	var v [4]byte
	binary.BigEndian.PutUint32(v[:], fp)
	m.AddAttribute(AttrFingerprint, v[:])
}
