// Package sdp parses and composes just enough of an SDP session
// description (RFC 4566, with the ice-sip-sdp conventions RFC 8839
// layers on top) to negotiate one server-role, receive-only,
// DTLS-SRTP-bundled media session, per spec.md §1/§6: the offer's
// per-media ice-ufrag/ice-pwd/fingerprint/ssrc attributes in, a
// matching recvonly answer out. Session-level info/uri/email/phone
// and any connection data outside what this endpoint itself reads or
// writes are accepted (so a full browser offer still parses) but
// discarded rather than modeled.
package sdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Session is one SDP session description: the handful of top-level fields
// this endpoint writes into its answer, plus every media section (each
// carrying the ICE/DTLS attributes this endpoint actually negotiates on).
type Session struct {
	Version int
	Origin  Origin
	Name    string
	Time    []Time
	Media   []Media
}

type Origin struct {
	Username       string
	SessionId      string
	SessionVersion uint64
	NetworkType    string
	AddressType    string
	Address        string
}

// Connection is the c= line this endpoint emits on every answered media
// section (always a placeholder 0.0.0.0: candidates, not this line, carry
// the real transport address, per spec.md §4.2).
type Connection struct {
	NetworkType string
	AddressType string
	Address     string
}

type Time struct {
	Start *time.Time
	Stop  *time.Time // Optional
}

type Attribute struct {
	Key   string
	Value string
}

// Media is one m= section. Attributes carries the ice-ufrag/ice-pwd/
// fingerprint/setup/mid/ssrc/rtcp-mux lines this endpoint reads off an
// offer and writes into its answer. GetAttr returns the first value for a
// key; callers that need every occurrence (such as repeated ssrc lines)
// iterate Attributes directly.
type Media struct {
	Type   string
	Port   int
	Proto  string
	Format []string

	Connection *Connection // Optional
	Attributes []Attribute

	attributeCache map[string]string
}

type writer strings.Builder

func (w *writer) Write(fragments ...string) {
	for _, s := range fragments {
		(*strings.Builder)(w).WriteString(s)
	}
}

func (w *writer) Writef(format string, args ...interface{}) {
	fmt.Fprintf((*strings.Builder)(w), format, args...)
}

func (w *writer) String() string {
	return (*strings.Builder)(w).String()
}

type parseError struct {
	which string
	value string
	cause error
}

func (e *parseError) Error() string {
	msg := fmt.Sprintf("sdp: invalid %s line %q", e.which, e.value)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (o *Origin) String() string {
	return fmt.Sprintf("%s %s %d %s %s %s",
		o.Username, o.SessionId, o.SessionVersion, o.NetworkType, o.AddressType, o.Address)
}

func parseOrigin(s string) (o Origin, err error) {
	_, err = fmt.Sscanf(s, "%s %s %d %s %s %s",
		&o.Username, &o.SessionId, &o.SessionVersion, &o.NetworkType, &o.AddressType, &o.Address)
	if err != nil {
		err = &parseError{"origin", s, err}
	}
	return
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s %s %s", c.NetworkType, c.AddressType, c.Address)
}

func parseConnection(s string) (c Connection, err error) {
	_, err = fmt.Sscanf(s, "%s %s %s", &c.NetworkType, &c.AddressType, &c.Address)
	if err != nil {
		err = &parseError{"connection", s, err}
	}
	return
}

func (t Time) String() string {
	return fmt.Sprintf("%d %d", toNtp(t.Start), toNtp(t.Stop))
}

func parseTime(s string) (t Time, err error) {
	var start, stop int64
	_, err = fmt.Sscanf(s, "%d %d", &start, &stop)
	t.Start = fromNtp(start)
	t.Stop = fromNtp(stop)
	if err != nil {
		err = &parseError{"time", s, err}
	}
	return
}

// ntpOffset is the gap between the NTP epoch (1900) and the Unix epoch
// (1970), in seconds: RFC 4566's t= line is expressed in NTP time.
const ntpOffset = 2208988800

func toNtp(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix() + ntpOffset
}

func fromNtp(ntp int64) *time.Time {
	if ntp == 0 {
		return nil
	}
	t := time.Unix(ntp-ntpOffset, 0)
	return &t
}

func (a Attribute) String() string {
	if a.Value == "" {
		return a.Key
	}
	return fmt.Sprintf("%s:%s", a.Key, a.Value)
}

func parseAttribute(s string) (a Attribute, err error) {
	key, value, _ := strings.Cut(s, ":")
	a.Key, a.Value = key, value
	return
}

// GetAttr returns the value of the first attribute with the given key, or
// "" if none is present (ice-ufrag/ice-pwd/fingerprint/mid are all
// single-valued in the offers this endpoint negotiates).
func (m *Media) GetAttr(key string) string {
	if m.attributeCache == nil {
		m.attributeCache = make(map[string]string, len(m.Attributes))
		for _, a := range m.Attributes {
			if _, exists := m.attributeCache[a.Key]; !exists {
				m.attributeCache[a.Key] = a.Value
			}
		}
	}
	return m.attributeCache[key]
}

func (m *Media) String() string {
	var w writer
	w.Writef("m=%s %d %s %s\r\n", m.Type, m.Port, m.Proto, strings.Join(m.Format, " "))
	if m.Connection != nil {
		w.Write("c=", m.Connection.String(), "\r\n")
	}
	for _, a := range m.Attributes {
		w.Write("a=", a.String(), "\r\n")
	}
	return w.String()
}

// parseMedia parses one m= section starting at text, returning whatever
// text remains unparsed.
func parseMedia(text string) (m Media, rtext string, err error) {
	line, more := nextLine(text)
	if len(line) < 2 || line[0:2] != "m=" {
		return m, text, &parseError{"media", line, nil}
	}

	fields := strings.Fields(line[2:])
	if len(fields) < 3 {
		return m, text, &parseError{"media", line, nil}
	}
	m.Type = fields[0]
	if m.Port, err = strconv.Atoi(fields[1]); err != nil {
		return m, text, &parseError{"media", line, err}
	}
	m.Proto = fields[2]
	m.Format = fields[3:]

	for text = more; text != ""; text = more {
		line, more = nextLine(text)
		typecode, value, lerr := splitTypeValue(line)
		if lerr != nil {
			return m, text, &parseError{"media", line, lerr}
		}
		switch typecode {
		case 'm':
			return m, text, nil
		case 'c':
			var c Connection
			if c, err = parseConnection(value); err != nil {
				return m, text, &parseError{"media", line, err}
			}
			m.Connection = &c
		case 'a':
			a, _ := parseAttribute(value)
			m.Attributes = append(m.Attributes, a)
		// i=, b=, k=, and any other line this endpoint doesn't act on are
		// accepted (so a full browser media section still parses) and
		// otherwise ignored.
		default:
		}
	}
	return m, text, nil
}

func (s *Session) String() string {
	var w writer
	w.Writef("v=%d\r\n", s.Version)
	w.Write("o=", s.Origin.String(), "\r\n")
	w.Write("s=", s.Name, "\r\n")
	for _, t := range s.Time {
		w.Write("t=", t.String(), "\r\n")
	}
	for _, m := range s.Media {
		w.Write(m.String())
	}
	return w.String()
}

// ParseSession parses a full SDP offer or answer. Session-level info/uri/
// email/phone/connection/attribute lines are consumed (so they don't
// desynchronize the line scan) but not retained, per this package's doc
// comment; only Version/Origin/Name/Time/Media survive into Session.
func ParseSession(text string) (s Session, err error) {
	var line, more, value string
	var typecode byte
	for ; text != ""; text = more {
		line, more = nextLine(text)
		if line == "" {
			continue
		}
		typecode, value, err = splitTypeValue(line)
		if err != nil {
			return s, &parseError{"session", line, err}
		}
		switch typecode {
		case 'v':
			s.Version, err = strconv.Atoi(value)
		case 'o':
			s.Origin, err = parseOrigin(value)
		case 's':
			s.Name = value
		case 't':
			var t Time
			t, err = parseTime(value)
			s.Time = append(s.Time, t)
		case 'm':
			var m Media
			m, more, err = parseMedia(text)
			s.Media = append(s.Media, m)
		// i=, u=, e=, p=, c=, b=, z=, k=, a= at the session level are
		// accepted but not modeled; see the package doc comment.
		default:
		}

		if err != nil {
			return s, &parseError{"session", line, err}
		}
	}
	return s, nil
}

func nextLine(input string) (line string, remainder string) {
	n := strings.IndexByte(input, '\n')
	if n == -1 {
		return input, ""
	}
	if n > 0 && input[n-1] == '\r' {
		line = input[:n-1]
	} else {
		line = input[:n]
	}
	remainder = input[n+1:]
	return
}

func splitTypeValue(line string) (typecode byte, value string, err error) {
	if len(line) < 2 || line[1] != '=' {
		return 0, "", fmt.Errorf("malformed line: %q", line)
	}
	return line[0], line[2:], nil
}
