package ice

import (
	"net"

	"github.com/lanikai/rtcendpoint/internal/stun"
)

// WriteState classifies whether a connection can currently carry traffic,
// per spec.md §3/§4.5.
type WriteState int

const (
	WriteInit WriteState = iota
	WriteWritable
	WriteUnreliable
	WriteTimeout
)

func (s WriteState) String() string {
	switch s {
	case WriteInit:
		return "Init"
	case WriteWritable:
		return "Writable"
	case WriteUnreliable:
		return "Unreliable"
	case WriteTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Parameters from spec.md §4.5.
const (
	ConnectionWriteConnectFails   = 5
	ConnectionWriteConnectTimeout = 5000 // ms
	ConnectionWriteTimeout        = 15000 // ms
	WeakConnectionReceiveTimeout  = 2500 // ms

	initialRTTMs = 3000
	minRTTMs     = 100
	maxRTTMs     = 60000
)

// pendingPing records one outstanding STUN binding request sent on this
// connection, per spec.md §3.
type pendingPing struct {
	transactionID [12]byte
	sentAtMs      int64
}

// Connection is one (local port, remote candidate) pair, per spec.md §3.
type Connection struct {
	Local  Candidate
	Remote Candidate

	WriteState WriteState
	Receiving  bool
	Selected   bool
	Nominated  bool

	LastPingSentMs     int64
	LastPingResponseMs int64
	LastDataReceivedMs int64

	pings []pendingPing

	RTTMs      int64
	rttSamples uint32
	NumPingsSent uint32

	sendFunc func(msg *stun.Message, addr *net.UDPAddr)

	destroyed bool
}

// NewConnection creates a connection in the Init state, per spec.md §3.
func NewConnection(local, remote Candidate, send func(msg *stun.Message, addr *net.UDPAddr)) *Connection {
	return &Connection{
		Local:      local,
		Remote:     remote,
		WriteState: WriteInit,
		RTTMs:      initialRTTMs,
		sendFunc:   send,
	}
}

// Ping sends a new STUN binding request and records it, per spec.md §4.5
// ("Init -- ping() called -- InProgress (pair state) -- send STUN req, record
// SentPing"). username is "<remote_ufrag>:<local_ufrag>"; password is the
// remote ICE password, used for MESSAGE-INTEGRITY.
func (c *Connection) Ping(now int64, username, password string, priority uint32, controlling bool) {
	msg := stun.New(stun.ClassRequest, stun.MethodBinding)
	msg.AddUsername(username)
	msg.AddPriority(priority)
	if controlling {
		msg.AddAttribute(stun.AttrIceControlling, make([]byte, 8))
	} else {
		msg.AddAttribute(stun.AttrIceControlled, make([]byte, 8))
	}
	msg.AddMessageIntegrity(password)
	msg.AddFingerprint()

	c.pings = append(c.pings, pendingPing{transactionID: msg.TransactionID, sentAtMs: now})
	c.LastPingSentMs = now
	c.NumPingsSent++

	c.sendFunc(msg, c.Remote.Addr)
}

// OnStunResponse handles a valid (fingerprint-checked, MI-verified) STUN
// success response matching one of our outstanding pings. Implements spec.md
// §4.5: "any -- valid STUN response -- Writable (and pair Succeeded) -- EWMA
// rtt, clear pings queue, update_receiving".
func (c *Connection) OnStunResponse(tid [12]byte, now int64) bool {
	idx := -1
	for i, p := range c.pings {
		if p.transactionID == tid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	rtt := now - c.pings[idx].sentAtMs
	c.updateRTT(rtt)

	c.pings = nil
	c.LastPingResponseMs = now
	c.WriteState = WriteWritable
	c.updateReceiving(now)

	return true
}

// updateRTT applies the EWMA smoothing from spec.md §3: 3:1 old:new weighting,
// clamped to [100, 60000] ms.
func (c *Connection) updateRTT(sample int64) {
	if sample < minRTTMs {
		sample = minRTTMs
	}
	if sample > maxRTTMs {
		sample = maxRTTMs
	}

	if c.rttSamples == 0 {
		c.RTTMs = sample
	} else {
		c.RTTMs = (3*c.RTTMs + sample) / 4
		if c.RTTMs < minRTTMs {
			c.RTTMs = minRTTMs
		}
		if c.RTTMs > maxRTTMs {
			c.RTTMs = maxRTTMs
		}
	}
	c.rttSamples++
}

// OnDataReceived marks that traffic (STUN or data) was received from the
// remote address, updating the receiving classification.
func (c *Connection) OnDataReceived(now int64) {
	c.LastDataReceivedMs = now
	c.updateReceiving(now)
}

func (c *Connection) updateReceiving(now int64) {
	c.Receiving = c.LastDataReceivedMs != 0 && now-c.LastDataReceivedMs < WeakConnectionReceiveTimeout
}

// TooManyFails implements spec.md §4.5:
//   |pings_since_last_response| >= max_fails AND
//   now > pings[max_fails-1].sent_at + max(100, min(60000, 2*rtt))
func (c *Connection) TooManyFails(now int64) bool {
	if len(c.pings) < ConnectionWriteConnectFails {
		return false
	}
	window := 2 * c.RTTMs
	if window < minRTTMs {
		window = minRTTMs
	}
	if window > maxRTTMs {
		window = maxRTTMs
	}
	return now > c.pings[ConnectionWriteConnectFails-1].sentAtMs+window
}

// TooLongWithoutResponse implements spec.md §4.5: non-empty ping queue and
// now > pings[0].sent_at + minMs.
func (c *Connection) TooLongWithoutResponse(minMs, now int64) bool {
	if len(c.pings) == 0 {
		return false
	}
	return now > c.pings[0].sentAtMs+minMs
}

// UpdateState advances the write-state machine per spec.md §4.5's transition
// table (Writable -> Unreliable -> Timeout). Must be driven periodically by
// the owning channel/reactor.
func (c *Connection) UpdateState(now int64) {
	switch c.WriteState {
	case WriteWritable:
		if c.TooManyFails(now) && c.TooLongWithoutResponse(ConnectionWriteConnectTimeout, now) {
			c.WriteState = WriteUnreliable
		}
	case WriteUnreliable, WriteInit:
		if c.TooLongWithoutResponse(ConnectionWriteTimeout, now) {
			c.WriteState = WriteTimeout
		}
	}
	c.updateReceiving(now)
}

// OnErrorResponse handles a STUN error response, per spec.md §4.5: retryable
// codes (401, 420, 500) leave the state unchanged (retried on the next ping);
// any other error code destroys the connection. Returns true if the
// connection should be destroyed.
func (c *Connection) OnErrorResponse(code int) bool {
	switch code {
	case 401, 420, 500:
		return false
	default:
		c.destroyed = true
		return true
	}
}

// PendingPingCount reports the number of ping transactions currently
// outstanding, inspected in send order by callers (e.g. the controller).
func (c *Connection) PendingPingCount() int {
	return len(c.pings)
}

// FirstPendingPingSentAt returns the send time of the oldest outstanding
// ping, or 0 if none.
func (c *Connection) FirstPendingPingSentAt() int64 {
	if len(c.pings) == 0 {
		return 0
	}
	return c.pings[0].sentAtMs
}
