package ice

import (
	"net"
	"time"

	"github.com/lanikai/rtcendpoint/internal/reactor"
	"github.com/lanikai/rtcendpoint/internal/stun"
)

// Ping cadence constants, per spec.md §4.6.
const (
	WeakPingIntervalMs   = 48  // 1000 * 480 / 10000, rounded
	StrongPingIntervalMs = 480 // 1000 * 480 / 1000
	StabilizingMs        = 900
	StableMs             = 2500

	MinPingsAtWeakPingInterval = 3

	// PingIntervalDiff guards against requeuing a timer right at its own
	// deadline because of clock jitter, per spec.md §4.6.
	PingIntervalDiff = 5
)

// Channel aggregates the set of Connections for one (transport_name,
// component) pair and drives their connectivity checks on a single repeating
// timer, per spec.md §4.6. Grounded in the teacher's internal/ice/agent.go,
// generalized from the teacher's client-initiated single-pair model into the
// controller the spec describes (selected-connection tracking, adaptive
// cadence, peer-reflexive promotion).
type Channel struct {
	r *reactor.Reactor

	Ports       []*Port
	Connections []*Connection

	Selected *Connection

	local  Parameters
	remote Parameters

	controlling bool

	pingTimer *reactor.Timer
	curInterval int64
}

// NewChannel creates an empty channel bound to one reactor.
func NewChannel(r *reactor.Reactor, local, remote Parameters, controlling bool) *Channel {
	return &Channel{
		r:           r,
		local:       local,
		remote:      remote,
		controlling: controlling,
		curInterval: WeakPingIntervalMs,
	}
}

// AddPort registers a local port (and its host candidate) with the channel
// and wires it to promote unknown-address STUN requests into peer-reflexive
// connections.
func (ch *Channel) AddPort(p *Port) {
	ch.Ports = append(ch.Ports, p)
	p.OnUnknownAddress = func(addr *net.UDPAddr, msg *stun.Message, remoteUfrag string) *Connection {
		return ch.onUnknownAddress(p, addr, msg, remoteUfrag)
	}
}

// AddConnection registers a Connection created from a known remote candidate
// (e.g. via SDP) and wires it into its owning port's dispatch table.
func (ch *Channel) AddConnection(port *Port, c *Connection) {
	ch.Connections = append(ch.Connections, c)
	port.AddConnection(c)
}

// onUnknownAddress implements spec.md §4.5's peer-reflexive promotion: the
// port emits unknown_address; the channel constructs a Candidate (type
// "prflx", priority from the request's PRIORITY attribute) and a Connection,
// registers it, and returns it so the port can dispatch the request in.
func (ch *Channel) onUnknownAddress(port *Port, addr *net.UDPAddr, msg *stun.Message, remoteUfrag string) *Connection {
	priority, ok := msg.Priority()
	if !ok {
		return nil
	}

	remote := NewPeerReflexiveCandidate(addr, port.Candidate.Component, priority)
	remote.Username = remoteUfrag

	c := NewConnection(port.Candidate, remote, port.SendStun)
	ch.AddConnection(port, c)
	return c
}

// Start begins the repeating check-and-ping timer. Must be called from the
// channel's reactor goroutine.
func (ch *Channel) Start() {
	ch.pingTimer = ch.r.AfterFunc(time.Duration(ch.curInterval)*time.Millisecond, ch.tick)
}

// Stop cancels the repeating timer.
func (ch *Channel) Stop() {
	if ch.pingTimer != nil {
		ch.pingTimer.Cancel()
	}
}

func (ch *Channel) tick() {
	now := reactor.Now()

	for _, c := range ch.Connections {
		c.UpdateState(now)
	}
	ch.updateSelected()

	conn, interval := ch.selectConnectionToPing(now)
	if conn != nil {
		conn.Ping(now, ch.pingUsername(conn), ch.remote.Password, ch.localPriority(conn), ch.controlling)
	}

	ch.curInterval = interval
	ch.pingTimer = ch.r.AfterFunc(time.Duration(interval)*time.Millisecond, ch.tick)
}

func (ch *Channel) pingUsername(c *Connection) string {
	return ch.remote.Ufrag + ":" + ch.local.Ufrag
}

func (ch *Channel) localPriority(c *Connection) uint32 {
	return c.Local.Priority
}

// updateSelected implements spec.md §4.6's selection stub: the currently
// selected connection stays selected while still writable; otherwise a
// nominated, writable connection is preferred (the remote, as controlling
// agent, signals its choice via USE-CANDIDATE), falling back to the first
// writable connection.
func (ch *Channel) updateSelected() {
	if ch.Selected != nil && ch.Selected.WriteState == WriteWritable {
		return
	}
	ch.Selected = nil
	for _, c := range ch.Connections {
		if c.WriteState == WriteWritable && c.Nominated {
			ch.Selected = c
			break
		}
	}
	if ch.Selected != nil {
		return
	}
	for _, c := range ch.Connections {
		if c.WriteState == WriteWritable {
			ch.Selected = c
			break
		}
	}
}

// HasPingableConnection implements spec.md §4.6.
func (ch *Channel) HasPingableConnection() bool {
	return len(ch.Connections) > 0
}

// isWeak reports whether c is "weak" per spec.md §4.6: not writable or not
// receiving.
func isWeak(c *Connection) bool {
	return c.WriteState != WriteWritable || !c.Receiving
}

// selectConnectionToPing implements spec.md §4.6's
// select_connection_to_ping(last_ping_ms) -> (Connection, ping_interval_ms).
func (ch *Channel) selectConnectionToPing(now int64) (*Connection, int64) {
	useWeak := ch.Selected == nil || isWeak(ch.Selected)
	if !useWeak {
		for _, c := range ch.Connections {
			if c.NumPingsSent < MinPingsAtWeakPingInterval {
				useWeak = true
				break
			}
		}
	}

	baseInterval := int64(StrongPingIntervalMs)
	if useWeak {
		baseInterval = WeakPingIntervalMs
	}

	var best *Connection
	var bestDue int64 = -1

	for _, c := range ch.Connections {
		interval := ch.connectionInterval(c)
		due := c.LastPingSentMs + interval
		if c.LastPingSentMs == 0 {
			due = now
		}
		if due > now+PingIntervalDiff {
			continue
		}
		if best == nil || due < bestDue {
			best = c
			bestDue = due
		}
	}

	return best, baseInterval
}

// connectionInterval implements spec.md §4.6's per-connection cadence: WEAK
// until 3 pings sent, then STABILIZING while unstable, else STABLE.
func (ch *Channel) connectionInterval(c *Connection) int64 {
	if c.NumPingsSent < MinPingsAtWeakPingInterval {
		return WeakPingIntervalMs
	}

	unstable := c.rttSamples <= 3 || c.hasStaleOutstandingPing()
	if unstable {
		return StabilizingMs
	}
	return StableMs
}

// hasStaleOutstandingPing reports whether the oldest outstanding ping is
// older than 2*rtt, used by connectionInterval's instability check.
func (c *Connection) hasStaleOutstandingPing() bool {
	if len(c.pings) == 0 {
		return false
	}
	age := reactor.Now() - c.pings[0].sentAtMs
	return age > 2*c.RTTMs
}
