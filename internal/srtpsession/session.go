// Package srtpsession wraps github.com/pion/srtp/v3 contexts for one peer's
// bidirectional SRTP/SRTCP traffic, per spec.md §4.8. The teacher carries a
// hand-rolled internal/rtp/srtp.go cryptoContext (AES-CTR + HMAC-SHA1,
// internal/aes) but only for sending; it has no unprotect path and no replay
// window. This package keeps the teacher's wrapper shape -- one struct
// holding a read context and a write context, unprotect-in-place semantics
// -- while delegating the actual crypto to the pack's maintained
// github.com/pion/srtp/v3, which exposes exactly the Context type this
// needs.
package srtpsession

import (
	"sync"

	"github.com/pion/dtls/v3"
	"github.com/pion/srtp/v3"

	"github.com/lanikai/rtcendpoint/internal/dtlstransport"
)

// replayWindowSize is the SRTP replay-protection window, per spec.md §4.8.
const replayWindowSize = 1024

// Session holds one peer's send and recv SRTP/SRTCP state.
type Session struct {
	recv *srtp.Context
	send *srtp.Context

	mu sync.Mutex

	recvFailures uint64
	loggedFirstFailure bool
}

// protectionProfile maps a negotiated DTLS-SRTP profile to pion/srtp's
// profile type.
func protectionProfile(p dtls.SRTPProtectionProfile) srtp.ProtectionProfile {
	switch p {
	case dtls.SRTP_AES128_CM_HMAC_SHA1_32:
		return srtp.ProtectionProfileAes128CmHmacSha1_32
	default:
		return srtp.ProtectionProfileAes128CmHmacSha1_80
	}
}

// New builds a Session from the keying material exported at the end of the
// DTLS handshake, per spec.md §4.7/§4.8: "any outbound/any inbound SSRC",
// window size 1024, allow-repeat-tx.
func New(km dtlstransport.KeyingMaterial) (*Session, error) {
	profile := protectionProfile(km.Profile)

	recvCtx, err := srtp.CreateContext(km.RecvKey, km.RecvSalt, profile,
		srtp.SRTPReplayProtection(replayWindowSize),
		srtp.SRTCPReplayProtection(replayWindowSize))
	if err != nil {
		return nil, err
	}
	sendCtx, err := srtp.CreateContext(km.SendKey, km.SendSalt, profile)
	if err != nil {
		return nil, err
	}

	return &Session{recv: recvCtx, send: sendCtx}, nil
}

// UnprotectRTP decrypts and authenticates an RTP packet in place, per spec.md
// §4.8, returning the authenticated payload length. Failures are counted;
// only the first is surfaced to the caller for logging.
func (s *Session) UnprotectRTP(buf []byte) (n int, firstFailure bool, err error) {
	out, decErr := s.recv.DecryptRTP(buf, buf, nil)
	if decErr != nil {
		return s.recordFailure(decErr)
	}
	return len(out), false, nil
}

// UnprotectRTCP decrypts and authenticates an RTCP compound packet in place.
func (s *Session) UnprotectRTCP(buf []byte) (n int, firstFailure bool, err error) {
	out, decErr := s.recv.DecryptRTCP(buf, buf, nil)
	if decErr != nil {
		return s.recordFailure(decErr)
	}
	return len(out), false, nil
}

func (s *Session) recordFailure(err error) (int, bool, error) {
	s.mu.Lock()
	s.recvFailures++
	first := !s.loggedFirstFailure
	s.loggedFirstFailure = true
	s.mu.Unlock()
	return 0, first, err
}

// ProtectRTP encrypts and signs an outbound RTP packet, returning a newly
// allocated protected copy that includes the authentication tag; buf itself
// is left unchanged. Used for send-side metrics and any server-originated
// RTCP/RTP traffic.
func (s *Session) ProtectRTP(buf []byte) ([]byte, error) {
	return s.send.EncryptRTP(nil, buf, nil)
}

// ProtectRTCP encrypts and signs an outbound RTCP packet, returning a newly
// allocated protected copy; buf itself is left unchanged.
func (s *Session) ProtectRTCP(buf []byte) ([]byte, error) {
	return s.send.EncryptRTCP(nil, buf, nil)
}

// RecvFailureCount reports the number of unprotect failures observed so far.
func (s *Session) RecvFailureCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvFailures
}
