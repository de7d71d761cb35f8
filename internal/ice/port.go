package ice

import (
	"net"

	"github.com/lanikai/rtcendpoint/internal/reactor"
	"github.com/lanikai/rtcendpoint/internal/stun"
	"github.com/lanikai/rtcendpoint/internal/udpsocket"
)

// UnknownAddressHandler is invoked when a STUN binding request arrives from
// an address with no matching Connection, per spec.md §4.4. It returns the
// Connection to dispatch the request into (creating a peer-reflexive
// candidate and Connection as needed).
type UnknownAddressHandler func(addr *net.UDPAddr, msg *stun.Message, remoteUfrag string) *Connection

// Port owns one UDP socket for one local candidate, per spec.md §4.4. It
// classifies incoming datagrams: fingerprint-valid STUN goes through the ICE
// dispatch path; everything else is forwarded to the DTLS layer.
type Port struct {
	Candidate Candidate

	socket *udpsocket.Socket

	localUfrag string
	localPwd   string

	connections map[string]*Connection // keyed by remote addr string

	OnUnknownAddress UnknownAddressHandler

	// OnNonSTUN receives any datagram that does not look like a STUN message
	// (DTLS records, protected RTP/RTCP), per spec.md §2's ingress data flow.
	OnNonSTUN func(payload []byte, addr *net.UDPAddr)
}

// NewPort binds a new local candidate on the given reactor.
func NewPort(r *reactor.Reactor, laddr *net.UDPAddr, localUfrag, localPwd string, component int) (*Port, error) {
	p := &Port{
		localUfrag:  localUfrag,
		localPwd:    localPwd,
		connections: make(map[string]*Connection),
	}

	sock, err := udpsocket.Listen(r, laddr, p.onRecv)
	if err != nil {
		return nil, err
	}
	p.socket = sock
	p.Candidate = NewHostCandidate(sock.LocalAddr(), component)

	return p, nil
}

// LocalAddr returns this port's bound address.
func (p *Port) LocalAddr() *net.UDPAddr {
	return p.socket.LocalAddr()
}

// Socket returns the UDP socket this port owns.
func (p *Port) Socket() *udpsocket.Socket {
	return p.socket
}

// AddConnection registers a Connection so future packets from its remote
// address dispatch to it.
func (p *Port) AddConnection(c *Connection) {
	p.connections[c.Remote.Addr.String()] = c
}

// RemoveConnection implements fail_and_destroy from spec.md §3's lifecycle.
func (p *Port) RemoveConnection(c *Connection) {
	delete(p.connections, c.Remote.Addr.String())
}

// Connection looks up the connection for a remote address, if any.
func (p *Port) Connection(addr *net.UDPAddr) *Connection {
	return p.connections[addr.String()]
}

// SendStun serializes and sends a STUN message to addr.
func (p *Port) SendStun(msg *stun.Message, addr *net.UDPAddr) {
	p.socket.WriteTo(msg.Marshal(), addr)
}

// WriteTo sends a raw (non-STUN) datagram to addr: DTLS handshake flights
// and SRTP/SRTCP packets, per spec.md §4.7/§4.8.
func (p *Port) WriteTo(b []byte, addr *net.UDPAddr) {
	p.socket.WriteTo(b, addr)
}

// onRecv runs on the owning reactor goroutine for every received datagram,
// implementing spec.md §4.4's classification:
//  1. fingerprint-valid + top two type bits zero => STUN, dispatch by remote
//     addr, else emit unknown_address.
//  2. else => opaque datagram, forward to DTLS layer.
func (p *Port) onRecv(pkt udpsocket.Packet) {
	if len(pkt.Payload) >= 20 && pkt.Payload[0]&0xC0 == 0x00 && stun.ValidateFingerprint(pkt.Payload) {
		msg, err := stun.Parse(pkt.Payload)
		if err != nil || msg == nil {
			return
		}
		p.dispatchStun(msg, pkt.Addr)
		return
	}

	if p.OnNonSTUN != nil {
		p.OnNonSTUN(pkt.Payload, pkt.Addr)
	}
}

func (p *Port) dispatchStun(msg *stun.Message, addr *net.UDPAddr) {
	switch msg.Class {
	case stun.ClassRequest:
		p.handleBindingRequest(msg, addr)
	case stun.ClassIndication:
		// Keepalive; no response required.
	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		if c := p.Connection(addr); c != nil {
			p.handleResponse(c, msg)
		}
	}
}

func (p *Port) handleResponse(c *Connection, msg *stun.Message) {
	now := reactor.Now()
	if msg.Class == stun.ClassSuccessResponse {
		if c.OnStunResponse(msg.TransactionID, now) {
			c.OnDataReceived(now)
		}
		return
	}
	if code, ok := msg.ErrorCode(); ok {
		c.OnErrorResponse(code)
	}
}

// handleBindingRequest implements spec.md §4.3-§4.4: validate USERNAME format
// (split on ':' to get remote ufrag, compare local part to our ufrag),
// respond 400/401 where required, otherwise send a success response and
// route into the matching (or newly peer-reflexive) Connection.
func (p *Port) handleBindingRequest(req *stun.Message, addr *net.UDPAddr) {
	username := req.Username()
	if username == "" {
		p.sendError(req, addr, 400, "Bad Request")
		return
	}

	localPart, remoteUfrag, ok := splitUsername(username)
	if !ok || localPart != p.localUfrag {
		p.sendError(req, addr, 401, "Unauthorized")
		return
	}

	if _, hasPriority := req.Priority(); !hasPriority {
		p.sendError(req, addr, 400, "Bad Request")
		return
	}

	if !stun.VerifyMessageIntegrity(req.Marshal(), p.localPwd) {
		p.sendError(req, addr, 401, "Unauthorized")
		return
	}

	c := p.Connection(addr)
	if c == nil {
		if p.OnUnknownAddress == nil {
			p.sendError(req, addr, 500, "Server Error")
			return
		}
		c = p.OnUnknownAddress(addr, req, remoteUfrag)
		if c == nil {
			p.sendError(req, addr, 500, "Server Error")
			return
		}
		p.AddConnection(c)
	}

	now := reactor.Now()
	c.OnDataReceived(now)
	if req.HasUseCandidate() {
		c.Nominated = true
	}

	resp := stun.NewWithTransactionID(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID)
	resp.SetXorMappedAddress(addr)
	resp.AddMessageIntegrity(p.localPwd)
	resp.AddFingerprint()
	p.SendStun(resp, addr)
}

func (p *Port) sendError(req *stun.Message, addr *net.UDPAddr, code int, reason string) {
	resp := stun.NewWithTransactionID(stun.ClassErrorResponse, stun.MethodBinding, req.TransactionID)
	resp.AddErrorCode(code, reason)
	resp.AddFingerprint()
	p.SendStun(resp, addr)
}

// splitUsername splits "<local>:<remote>" on the single ':' separator, per
// spec.md §4.3.
func splitUsername(u string) (local, remote string, ok bool) {
	for i := 0; i < len(u); i++ {
		if u[i] == ':' {
			return u[:i], u[i+1:], true
		}
	}
	return "", "", false
}
