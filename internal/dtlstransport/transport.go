package dtlstransport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"

	"github.com/pion/dtls/v3"
	"github.com/pkg/errors"

	"github.com/lanikai/rtcendpoint/internal/demux"
	"github.com/lanikai/rtcendpoint/internal/reactor"
)

// State is the DTLS transport's lifecycle, per spec.md §4.7.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// KeyingMaterial holds the send/recv SRTP keys derived from the DTLS
// exporter, per spec.md §4.7.
type KeyingMaterial struct {
	Profile  dtls.SRTPProtectionProfile
	SendKey  []byte
	SendSalt []byte
	RecvKey  []byte
	RecvSalt []byte
}

// RemoteDigest is the out-of-band certificate fingerprint supplied by the
// signaling layer, per spec.md §4.7.
type RemoteDigest struct {
	Algorithm string // e.g. "sha-256"
	Bytes     []byte
}

// Transport runs one DTLS server-role handshake over a reactor-fed record
// adapter, per spec.md §4.7. The blocking pion/dtls Handshake/Read calls run
// on a dedicated goroutine; every observable state change is marshaled back
// onto the owning reactor via Reactor.Post, so peer state is still only ever
// mutated from the shard's reactor goroutine even though the library call
// itself blocks elsewhere.
type Transport struct {
	r *reactor.Reactor

	adapter *recordAdapter

	cert         tls.Certificate
	profiles     []dtls.SRTPProtectionProfile
	remoteDigest *RemoteDigest

	mu    sync.Mutex
	state State

	conn *dtls.Conn

	cachedClientHello []byte

	OnStateChange func(State)
	OnKeyingMaterial func(KeyingMaterial)

	sendFunc func(b []byte)
}

// New creates a DTLS transport in the New state. sendFunc forwards
// handshake-originated records to the ICE channel for the remote address.
func New(r *reactor.Reactor, cert tls.Certificate, profiles []dtls.SRTPProtectionProfile, local, remote net.Addr, sendFunc func(b []byte)) *Transport {
	t := &Transport{
		r:        r,
		cert:     cert,
		profiles: profiles,
		state:    StateNew,
		sendFunc: sendFunc,
	}
	t.adapter = newRecordAdapter(local, remote, sendFunc)
	return t
}

// SetRemoteDigest installs the peer certificate digest from signaling. Per
// spec.md §4.7: if this arrives before the handshake has started, it is used
// as the verification preset; if after, the already-negotiated peer
// certificate is checked against it immediately, failing the transport on
// mismatch.
func (t *Transport) SetRemoteDigest(d RemoteDigest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.remoteDigest = &d

	if t.conn == nil {
		return
	}

	state := t.conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}
	cert := mustParse(state.PeerCertificates[0])
	if cert == nil || !verifyDigest(cert, d) {
		t.setState(StateFailed)
	}
}

// OnRecord handles one already-extracted DTLS record. In the New state the
// local certificate is already present (it is given to New), so the first
// ClientHello is kept and the handshake starts at once; it is not held back
// for a later certificate install, and any other record received in New is
// dropped. Must be called from the reactor goroutine.
func (t *Transport) OnRecord(record []byte) {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	switch state {
	case StateNew:
		if isClientHello(record) {
			t.cachedClientHello = append([]byte(nil), record...)
			t.startHandshake()
		}
	case StateConnecting, StateConnected:
		t.adapter.deliver(record)
	}
}

func isClientHello(record []byte) bool {
	return len(record) > demux.DTLSRecordHeaderLen && record[0] == 22 && record[demux.DTLSRecordHeaderLen] == 1
}

// startHandshake transitions to Connecting and runs the blocking pion/dtls
// handshake on its own goroutine, per spec.md §4.7/§5 ("DTLS engine calls are
// synchronous but CPU-bounded; they may not be invoked from a thread other
// than the owning shard" -- rendered here as: the blocking call runs
// elsewhere, but every resulting state mutation is Post'ed back).
func (t *Transport) startHandshake() {
	t.setState(StateConnecting)

	if t.cachedClientHello != nil {
		t.adapter.deliver(t.cachedClientHello)
		t.cachedClientHello = nil
	}

	clientAuth := dtls.RequireAnyClientCert

	cfg := &dtls.Config{
		Certificates:           []tls.Certificate{t.cert},
		ClientAuth:             clientAuth,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		SRTPProtectionProfiles: t.profiles,
		InsecureSkipVerify:     true,
	}

	t.mu.Lock()
	digest := t.remoteDigest
	t.mu.Unlock()
	if digest != nil {
		d := *digest
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, verifiedChains [][]*tls.Certificate) error {
			cert, err := x509ParseFirst(rawCerts)
			if err != nil {
				return err
			}
			if !verifyDigest(cert, d) {
				return errors.New("dtlstransport: remote certificate digest mismatch")
			}
			return nil
		}
	}

	go t.runHandshake(cfg)
}

func (t *Transport) runHandshake(cfg *dtls.Config) {
	conn, err := dtls.Server(t.adapter, cfg)
	if err != nil {
		t.r.Post(func() { t.setState(StateFailed) })
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	profile, _ := conn.ConnectionState().SRTPProtectionProfile()
	keyLen, saltLen, err := profileKeyLengths(profile)
	if err != nil {
		t.r.Post(func() { t.setState(StateFailed) })
		return
	}

	material, err := conn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 2*(keyLen+saltLen))
	if err != nil {
		t.r.Post(func() { t.setState(StateFailed) })
		return
	}

	km := splitKeyingMaterial(material, keyLen, saltLen, profile)

	t.r.Post(func() {
		t.mu.Lock()
		digest := t.remoteDigest
		t.mu.Unlock()
		if digest != nil {
			peerCerts := conn.ConnectionState().PeerCertificates
			var cert *x509.Certificate
			if len(peerCerts) > 0 {
				cert = mustParse(peerCerts[0])
			}
			if cert == nil || !verifyDigest(cert, *digest) {
				t.setState(StateFailed)
				return
			}
		}

		if t.OnKeyingMaterial != nil {
			t.OnKeyingMaterial(km)
		}
		t.setState(StateConnected)
	})
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	if t.state == StateFailed || t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	if t.OnStateChange != nil {
		t.OnStateChange(s)
	}
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close tears down the transport; idempotent.
func (t *Transport) Close() {
	t.mu.Lock()
	conn := t.conn
	t.state = StateClosed
	t.mu.Unlock()

	t.adapter.Close()
	if conn != nil {
		_ = conn.Close()
	}
}

// splitKeyingMaterial implements spec.md §4.7: split exporter output into
// {client_write, server_write}; as the server, local send_key = server_write,
// recv_key = client_write.
func splitKeyingMaterial(material []byte, keyLen, saltLen int, profile dtls.SRTPProtectionProfile) KeyingMaterial {
	clientKey := material[:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	return KeyingMaterial{
		Profile:  profile,
		SendKey:  serverKey,
		SendSalt: serverSalt,
		RecvKey:  clientKey,
		RecvSalt: clientSalt,
	}
}

// profileKeyLengths returns (master_key_len, master_salt_len) for the
// negotiated SRTP protection profile.
func profileKeyLengths(profile dtls.SRTPProtectionProfile) (keyLen, saltLen int, err error) {
	switch profile {
	case dtls.SRTP_AES128_CM_HMAC_SHA1_80, dtls.SRTP_AES128_CM_HMAC_SHA1_32:
		return 16, 14, nil
	default:
		return 0, 0, fmt.Errorf("dtlstransport: unsupported SRTP profile %v", profile)
	}
}
