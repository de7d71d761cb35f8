package peer

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/lanikai/rtcendpoint/internal/demux"
	"github.com/lanikai/rtcendpoint/internal/dtlstransport"
	"github.com/lanikai/rtcendpoint/internal/ice"
	"github.com/lanikai/rtcendpoint/internal/logging"
	"github.com/lanikai/rtcendpoint/internal/reactor"
	"github.com/lanikai/rtcendpoint/internal/rtcpengine"
	"github.com/lanikai/rtcendpoint/internal/rtpstats"
	"github.com/lanikai/rtcendpoint/internal/srtpsession"
)

var log = logging.DefaultLogger.WithTag("peer")

// closeLingerMs is how long Close waits, after marking the Controller Closed
// and stopping its timers, before invoking onFreed, per spec.md §5's
// two-phase teardown (avoids freeing state a racing, already-in-flight
// packet still references). The server removes the Controller from its
// dispatch map before calling Close, so it is unreachable during this delay.
const closeLingerMs = 10

var defaultSrtpProfiles = []dtls.SRTPProtectionProfile{
	dtls.SRTP_AES128_CM_HMAC_SHA1_80,
	dtls.SRTP_AES128_CM_HMAC_SHA1_32,
}

// OnRtpPacket is invoked for every successfully unprotected inbound RTP
// packet, per spec.md §6's on_rtp_packet callback.
type OnRtpPacket func(mid string, pkt *rtp.Packet, raw []byte)

// OnLocalRtcp is invoked whenever this controller has produced an outbound
// (already SRTCP-protected) compound RTCP packet to send, per spec.md §6's
// on_local_rtcp_packet callback.
type OnLocalRtcp func(mid string, raw []byte)

// transport bundles the ICE channel, DTLS transport, and SRTP session for
// one media transport (typically one per peer, after BUNDLE), per spec.md
// §4.10.
type transport struct {
	mid string

	channel *ice.Channel
	dtls    *dtlstransport.Transport
	port    *ice.Port

	mu         sync.Mutex
	srtp       *srtpsession.Session
	tstate     transportState
	remoteAddr *net.UDPAddr

	rtcp      *rtcpengine.Engine
	scheduler *rtcpengine.Scheduler

	stats map[uint32]*rtpstats.PerSsrcStat

	// rtcpParseFailures counts malformed inbound compound RTCP per spec.md
	// §7 kind 1 ("drop silently, increment a counter"); loggedRtcpFailure
	// gates the one-time log line the first such failure gets.
	rtcpParseFailures uint64
	loggedRtcpFailure bool
}

// sendRaw forwards a raw UDP datagram (a DTLS handshake flight) to
// whichever remote address this transport's ICE channel has most recently
// heard from, per spec.md §4.7. Before any datagram has arrived there is
// nowhere to send a server-role handshake message, so sendRaw is a no-op.
func (t *transport) sendRaw(b []byte) {
	t.mu.Lock()
	addr := t.remoteAddr
	t.mu.Unlock()
	if addr == nil {
		return
	}
	t.port.WriteTo(b, addr)
}

// Controller composes one peer's media transports and aggregates their
// lifecycle into a single PeerState, per spec.md §4.10. Grounded in the
// teacher's PeerConnection (peer_connection.go), generalized from a client,
// single-video-track shape into a server-role, receive-only,
// possibly-multi-transport controller.
type Controller struct {
	r *reactor.Reactor

	ID string

	cert tls.Certificate

	transports map[string]*transport

	state State

	OnStateChange func(State)
	OnRtpPacket   OnRtpPacket
	OnLocalRtcp   OnLocalRtcp

	rrIntervalMs int64

	closed bool
}

// NewController creates an empty controller for one peer. cert is this
// endpoint's DTLS certificate (shared read-only across peers via
// internal/certstore); rrIntervalMs is the base RTCP report cadence from
// configuration (spec.md §6's rtcp_report_timer_interval_ms).
func NewController(r *reactor.Reactor, id string, cert tls.Certificate, rrIntervalMs int64) *Controller {
	return &Controller{
		r:            r,
		ID:           id,
		cert:         cert,
		transports:   make(map[string]*transport),
		state:        StateNew,
		rrIntervalMs: rrIntervalMs,
	}
}

// AddTransport wires up one bundled (mid, ICE params) pair on the given
// local port: an ICE channel selecting a connection, and a DTLS transport
// that starts its handshake once the first ClientHello arrives over that
// connection. port's non-STUN datagrams (DTLS records, SRTP/SRTCP) are
// wired straight to this transport's HandlePacket path, and the remote
// address they arrive from becomes this transport's send destination for
// the DTLS handshake's own reply flights.
func (c *Controller) AddTransport(mid string, local, remote ice.Parameters, controlling bool, port *ice.Port) *transport {
	ch := ice.NewChannel(c.r, local, remote, controlling)
	ch.AddPort(port)

	t := &transport{
		mid:     mid,
		channel: ch,
		port:    port,
		tstate:  newTransportState(),
		rtcp:    rtcpengine.New(),
		stats:   make(map[uint32]*rtpstats.PerSsrcStat),
	}

	dt := dtlstransport.New(c.r, c.cert, defaultSrtpProfiles, port.LocalAddr(), nil, t.sendRaw)
	t.dtls = dt

	port.OnNonSTUN = func(payload []byte, addr *net.UDPAddr) {
		t.mu.Lock()
		t.remoteAddr = addr
		t.mu.Unlock()
		c.HandlePacket(mid, payload, reactor.Now())
	}

	dt.OnStateChange = func(dtlsState dtlstransport.State) {
		if dtlsState == dtlstransport.StateConnected {
			// SRTP session materializes here; keying material is delivered
			// via OnKeyingMaterial just before this callback fires.
		}
		c.onTransportChanged(t)
	}
	dt.OnKeyingMaterial = func(km dtlstransport.KeyingMaterial) {
		sess, err := srtpsession.New(km)
		t.mu.Lock()
		if err == nil {
			t.srtp = sess
		}
		t.mu.Unlock()
	}

	t.scheduler = rtcpengine.NewScheduler(c.r, c.rrIntervalMs, func() {
		c.sendReceiverReports(t)
	})
	t.scheduler.Start()
	ch.Start()

	c.transports[mid] = t
	c.onTransportChanged(t)

	return t
}

// AddSsrc registers an inbound media SSRC on the given transport, so its
// RTP packets are tracked for jitter/loss accounting and included in
// outbound Receiver Reports, per spec.md §4.9.
func (c *Controller) AddSsrc(mid string, ssrc uint32, clockRateHz uint32) {
	t, ok := c.transports[mid]
	if !ok {
		return
	}
	stat, err := rtpstats.NewPerSsrcStat(ssrc, clockRateHz)
	if err != nil {
		log.Error("mid %s: %v", mid, err)
		return
	}
	t.stats[ssrc] = stat
}

// SetRemoteDigest installs the DTLS certificate fingerprint advertised in
// the remote SDP, per spec.md §4.7.
func (c *Controller) SetRemoteDigest(mid string, algorithm string, digest []byte) {
	t, ok := c.transports[mid]
	if !ok {
		return
	}
	t.dtls.SetRemoteDigest(dtlstransport.RemoteDigest{Algorithm: algorithm, Bytes: digest})
}

// HandlePacket routes one inbound UDP datagram to the correct subsystem:
// STUN binding checks go to the ICE port (wired separately, via
// Channel.AddPort), DTLS records to the DTLS transport, and SRTP/SRTCP to
// the SRTP session followed by the RTP/RTCP receive pipeline, per spec.md
// §4.7's demultiplexing rule.
func (c *Controller) HandlePacket(mid string, datagram []byte, nowUnixMs int64) {
	t, ok := c.transports[mid]
	if !ok || len(datagram) == 0 {
		return
	}

	switch demux.Classify(datagram[0]) {
	case demux.KindDTLS:
		records, ok := demux.SplitRecords(datagram)
		if !ok {
			return
		}
		for _, rec := range records {
			t.dtls.OnRecord(rec)
		}
	case demux.KindRTPOrRTCP:
		c.handleSrtp(t, datagram, nowUnixMs)
	}
}

func (c *Controller) handleSrtp(t *transport, datagram []byte, nowUnixMs int64) {
	t.mu.Lock()
	sess := t.srtp
	t.mu.Unlock()
	if sess == nil {
		return
	}

	buf := append([]byte(nil), datagram...)

	if len(buf) >= 2 && demux.IsRTCP(buf[1]) {
		n, firstFailure, err := sess.UnprotectRTCP(buf)
		if err != nil {
			if firstFailure {
				log.Warn("mid %s: srtcp unprotect failed, further failures will be counted silently: %v", t.mid, err)
			}
			return
		}
		if err := t.rtcp.AbsorbCompound(buf[:n], nowUnixMs); err != nil {
			t.mu.Lock()
			t.rtcpParseFailures++
			logFirst := !t.loggedRtcpFailure
			t.loggedRtcpFailure = true
			t.mu.Unlock()
			if logFirst {
				log.Warn("mid %s: malformed compound RTCP, further failures will be counted silently: %v", t.mid, err)
			}
		}
		return
	}

	n, firstFailure, err := sess.UnprotectRTP(buf)
	if err != nil {
		if firstFailure {
			log.Warn("mid %s: srtp unprotect failed, further failures will be counted silently: %v", t.mid, err)
		}
		return
	}
	buf = buf[:n]

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return
	}

	if s, ok := t.stats[pkt.SSRC]; ok {
		s.Update(pkt, nowUnixMs)
	}

	if c.OnRtpPacket != nil {
		c.OnRtpPacket(t.mid, pkt, buf)
	}
}

// sendReceiverReports builds a compound RTCP Receiver Report for every
// tracked SSRC on this transport, per spec.md §4.9's cadence, and (if the
// SRTP session is up) protects it and hands it to OnLocalRtcp. The
// controller does not itself write the report to the transport's port.
func (c *Controller) sendReceiverReports(t *transport) {
	t.mu.Lock()
	sess := t.srtp
	t.mu.Unlock()
	if sess == nil || len(t.stats) == 0 {
		return
	}

	nowMs := reactor.Now()
	// Sender SSRC 1 is a placeholder identity for report blocks originating
	// from this endpoint; the endpoint does not itself send media.
	compound, ok, dropped := t.rtcp.BuildCompoundRR(1, t.stats, nowMs, 1200)
	if !ok {
		return
	}
	if dropped > 0 {
		log.Warn("mid %s: receiver report exceeded packet budget, dropped %d report block(s)", t.mid, dropped)
	}

	protected, err := sess.ProtectRTCP(compound)
	if err != nil {
		return
	}

	if c.OnLocalRtcp != nil {
		c.OnLocalRtcp(t.mid, protected)
	}
}

// AbsorbRtcpSenderReports is a convenience entry point for tests and callers
// that already have unprotected, parsed RTCP packets in hand; it marshals
// them into one compound buffer and absorbs it.
func (c *Controller) AbsorbRtcpSenderReports(mid string, packets []rtcp.Packet, nowUnixMs int64) error {
	t, ok := c.transports[mid]
	if !ok {
		return errors.Errorf("peer: unknown transport %q", mid)
	}
	buf, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}
	return t.rtcp.AbsorbCompound(buf, nowUnixMs)
}

// onTransportChanged refreshes t's contribution from its ICE channel and
// DTLS state and re-evaluates the aggregate PeerState. It runs from
// AddTransport and on every DTLS state change; ICE channel changes alone do
// not trigger it (the channel's own repeating timer drives pings).
func (c *Controller) onTransportChanged(t *transport) {
	t.tstate.updateFromIce(t.channel)
	t.tstate.updateFromDtls(t.dtls.State())
	c.recomputeState()
}

func (c *Controller) recomputeState() {
	states := make([]transportState, 0, len(c.transports))
	for _, t := range c.transports {
		states = append(states, t.tstate)
	}

	next := Aggregate(states)
	if c.closed {
		next = StateClosed
	}
	if next == c.state {
		return
	}
	c.state = next
	if c.OnStateChange != nil {
		c.OnStateChange(next)
	}
}

// State returns the controller's last-computed aggregate PeerState.
func (c *Controller) State() State {
	return c.state
}

// Close tears the peer down in two phases, per spec.md §5: this call marks
// the controller Closed and stops all timers synchronously, so the owning
// shard can immediately remove it from dispatch; onFreed (if non-nil) is
// invoked ~10ms later, once any packet already in flight to this
// controller has had time to be dropped by the dispatch-table removal,
// and is where the caller should release any remaining references.
func (c *Controller) Close(onFreed func()) {
	if c.closed {
		return
	}
	c.closed = true

	for _, t := range c.transports {
		t.channel.Stop()
		t.dtls.Close()
		if t.scheduler != nil {
			t.scheduler.Stop()
		}
	}

	c.recomputeState()

	if onFreed != nil {
		c.r.AfterFunc(closeLingerMs*time.Millisecond, onFreed)
	}
}
