package main

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtp"

	"github.com/lanikai/rtcendpoint/internal/certstore"
	"github.com/lanikai/rtcendpoint/internal/config"
	"github.com/lanikai/rtcendpoint/internal/ice"
	"github.com/lanikai/rtcendpoint/internal/peer"
	"github.com/lanikai/rtcendpoint/internal/reactor"
	"github.com/lanikai/rtcendpoint/internal/sdp"
	"github.com/lanikai/rtcendpoint/internal/shard"
	"github.com/lanikai/rtcendpoint/internal/signaling"
)

// bundledMid is the one bundled media transport name every peer uses. Full
// per-section (audio/video) ICE/DTLS transports are a SPEC_FULL.md Non-goal
// once BUNDLE is in play -- see spec.md §4.10's "typically one after
// BUNDLE" note -- so this endpoint always negotiates a single bundled
// transport per peer.
const bundledMid = "0"

// server dispatches signaling messages onto the shard pool, creating and
// tearing down one internal/peer.Controller per stream_id. Grounded in the
// teacher's doPeerSession (cmd/alohartcd/main.go), generalized from one
// goroutine per call, hand-assembled single-video-track PeerConnection into
// sharded, receive-only, multi-SSRC Controllers keyed by stream_id.
type server struct {
	pool  *shard.Pool
	certs *certstore.Store
	cfg   config.Config

	mu    sync.Mutex
	peers map[string]*peerEntry
}

type peerEntry struct {
	r          *reactor.Reactor
	controller *peer.Controller
	port       *ice.Port
	session    *signaling.Session
}

func newServer(pool *shard.Pool, certs *certstore.Store, cfg config.Config) *server {
	return &server{
		pool:  pool,
		certs: certs,
		cfg:   cfg,
		peers: make(map[string]*peerEntry),
	}
}

func (srv *server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if err := signaling.Serve(w, r, srv.handle); err != nil {
		log.Warn("websocket upgrade: %v", err)
	}
}

func (srv *server) handle(s *signaling.Session, msg signaling.Inbound) {
	switch msg.Type {
	case signaling.TypeCreatePeer:
		srv.createPeer(s, msg.StreamID)
	case signaling.TypeSetRemoteDescription:
		srv.setRemoteDescription(s, msg.StreamID, msg.SDP)
	case signaling.TypeStop:
		srv.stop(msg.StreamID)
	default:
		log.Warn("unexpected signaling message type %q", msg.Type)
	}
}

func (srv *server) createPeer(s *signaling.Session, streamID string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if _, exists := srv.peers[streamID]; exists {
		return
	}

	r := srv.pool.For(streamID)
	entry := &peerEntry{r: r, session: s}
	srv.peers[streamID] = entry

	r.Post(func() {
		cert, err := srv.certs.Current()
		if err != nil {
			log.Error("stream %s: certificate unavailable: %v", streamID, err)
			return
		}
		entry.controller = peer.NewController(r, streamID, cert.Certificate, srv.cfg.RtcpReportIntervalMs)
		entry.controller.OnStateChange = func(st peer.State) {
			_ = s.SendPeerState(streamID, st.String())
		}
		entry.controller.OnRtpPacket = func(mid string, pkt *rtp.Packet, raw []byte) {
			_ = s.SendRtpPacket(streamID, pkt.SSRC, pkt.SequenceNumber, pkt.Timestamp, pkt.Marker, pkt.PayloadType)
		}
		entry.controller.OnLocalRtcp = func(mid string, raw []byte) {
			_ = s.SendLocalRtcpPacket(streamID, raw)
		}
	})
}

// setRemoteDescription parses the offer, binds a local host candidate in
// the configured ICE port range, wires the bundled ICE channel and DTLS
// transport, and replies with this endpoint's SDP answer. Grounded in the
// teacher's PeerConnection.SetRemoteDescription/createAnswer, generalized
// from a fixed single-video-track answer into one reflecting whatever
// media sections the offer carries, all sharing the one bundled
// transport.
func (srv *server) setRemoteDescription(s *signaling.Session, streamID, sdpOffer string) {
	srv.mu.Lock()
	entry, ok := srv.peers[streamID]
	srv.mu.Unlock()
	if !ok {
		_ = s.SendError(streamID, "unknown stream_id; send create_peer first")
		return
	}

	offer, err := sdp.ParseSession(sdpOffer)
	if err != nil || len(offer.Media) == 0 {
		_ = s.SendError(streamID, "invalid SDP offer")
		return
	}

	remoteUfrag := offer.Media[0].GetAttr("ice-ufrag")
	remotePwd := offer.Media[0].GetAttr("ice-pwd")
	fingerprintAttr := offer.Media[0].GetAttr("fingerprint")

	local := ice.NewParameters()

	entry.r.Post(func() {
		cert, err := srv.certs.Current()
		if err != nil {
			log.Error("stream %s: certificate unavailable: %v", streamID, err)
			return
		}

		port, err := bindHostPort(entry.r, srv.cfg.Host, srv.cfg.Ice.MinPort, srv.cfg.Ice.MaxPort, local.Ufrag, local.Password)
		if err != nil {
			log.Error("stream %s: failed to bind ICE port: %v", streamID, err)
			return
		}
		entry.port = port

		remote := ice.Parameters{Ufrag: remoteUfrag, Password: remotePwd}
		entry.controller.AddTransport(bundledMid, local, remote, false, port)

		if algo, digest, ok := parseFingerprint(fingerprintAttr); ok {
			entry.controller.SetRemoteDigest(bundledMid, algo, digest)
		}

		for _, m := range offer.Media {
			for _, attr := range m.Attributes {
				if attr.Key != "ssrc" {
					continue
				}
				fields := strings.Fields(attr.Value)
				if len(fields) == 0 {
					continue
				}
				ssrc, err := strconv.ParseUint(fields[0], 10, 32)
				if err != nil {
					continue
				}
				entry.controller.AddSsrc(bundledMid, uint32(ssrc), clockRateFor(m.Type))
			}
		}
	})

	answer := buildAnswer(offer, local, currentCert(srv))
	_ = s.SendAnswer(streamID, answer.String())
}

func (srv *server) stop(streamID string) {
	srv.mu.Lock()
	entry, ok := srv.peers[streamID]
	if ok {
		delete(srv.peers, streamID)
	}
	srv.mu.Unlock()
	if !ok {
		return
	}

	entry.r.Post(func() {
		if entry.controller != nil {
			entry.controller.Close(func() {
				if entry.port != nil {
					entry.port.Socket().Close()
				}
			})
		}
	})
}

// bindHostPort binds a UDP socket within [minPort, maxPort] and registers
// it as an ICE host candidate, per spec.md §4.2/§6.
func bindHostPort(r *reactor.Reactor, host string, minPort, maxPort int, ufrag, pwd string) (*ice.Port, error) {
	if minPort <= 0 || maxPort <= 0 || minPort > maxPort {
		return ice.NewPort(r, &net.UDPAddr{IP: net.ParseIP(host), Port: 0}, ufrag, pwd, 1)
	}
	var lastErr error
	for p := minPort; p <= maxPort; p++ {
		port, err := ice.NewPort(r, &net.UDPAddr{IP: net.ParseIP(host), Port: p}, ufrag, pwd, 1)
		if err == nil {
			return port, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func parseFingerprint(attr string) (algorithm string, digest []byte, ok bool) {
	fields := strings.Fields(attr)
	if len(fields) != 2 {
		return "", nil, false
	}
	hexParts := strings.Split(fields[1], ":")
	digest = make([]byte, 0, len(hexParts))
	for _, h := range hexParts {
		v, err := strconv.ParseUint(h, 16, 8)
		if err != nil {
			return "", nil, false
		}
		digest = append(digest, byte(v))
	}
	return strings.ToLower(fields[0]), digest, true
}

func clockRateFor(mediaType string) uint32 {
	if mediaType == "audio" {
		return 48000
	}
	return 90000
}

func currentCert(srv *server) *certstore.Entry {
	e, err := srv.certs.Current()
	if err != nil {
		return &certstore.Entry{}
	}
	return e
}

// buildAnswer assembles a minimal SDP answer advertising this endpoint's
// ICE parameters and certificate fingerprint for the one bundled
// transport, per spec.md §4.7/§6. Grounded in the teacher's
// PeerConnection.createAnswer, generalized from a fixed H.264 video
// sendonly answer into a recvonly answer whose media sections mirror the
// offer's.
func buildAnswer(offer sdp.Session, local ice.Parameters, cert *certstore.Entry) sdp.Session {
	answer := sdp.Session{
		Version: 0,
		Origin: sdp.Origin{
			Username:    "rtcendpoint",
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     "0.0.0.0",
		},
		Name: "-",
		Time: []sdp.Time{{nil, nil}},
	}

	for _, m := range offer.Media {
		answer.Media = append(answer.Media, sdp.Media{
			Type:   m.Type,
			Port:   9,
			Proto:  "UDP/TLS/RTP/SAVPF",
			Format: m.Format,
			Connection: &sdp.Connection{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     "0.0.0.0",
			},
			Attributes: []sdp.Attribute{
				{Key: "mid", Value: m.GetAttr("mid")},
				{Key: "rtcp", Value: "9 IN IP4 0.0.0.0"},
				{Key: "ice-ufrag", Value: local.Ufrag},
				{Key: "ice-pwd", Value: local.Password},
				{Key: "fingerprint", Value: "sha-256 " + cert.Fingerprint},
				{Key: "setup", Value: "passive"},
				{Key: "recvonly", Value: ""},
				{Key: "rtcp-mux", Value: ""},
			},
		})
	}

	return answer
}
