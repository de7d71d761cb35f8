// Package rtcpengine builds and absorbs compound RTCP packets for a peer's
// inbound media, per spec.md §4.9: SR absorption, LSR/DLSR computation, and
// cadence-driven RR packet assembly. Wire (de)serialization of individual
// RTCP packets is delegated to github.com/pion/rtcp, which both
// n0remac-robot-webrtc and pion-webrtc already depend on; the compact-NTP
// and report-cadence logic are hand rolled, grounded in the teacher's
// internal/rtp/rtcp.go rtcpSenderReport/rtcpReceiverReport types and
// original_source/'s rtcp_receiver.cpp/rtcp_sender.cpp.
package rtcpengine

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Ntp is a 64-bit NTP timestamp (32.32 fixed point), per RFC3550 §4.
type Ntp uint64

// NtpFromUnixMs converts a Unix-epoch millisecond timestamp to NTP format.
func NtpFromUnixMs(unixMs int64) Ntp {
	seconds := unixMs/1000 + ntpEpochOffset
	frac := float64(unixMs%1000) / 1000.0 * (1 << 32)
	return Ntp(uint64(seconds)<<32 | uint64(frac))
}

// CompactNtp implements spec.md §4.9's middle-32-bits extraction:
// ((sec & 0xFFFF)<<16) | ((frac>>16) & 0xFFFF).
func CompactNtp(t Ntp) uint32 {
	sec := uint32(t >> 32)
	frac := uint32(t)
	return (sec&0xFFFF)<<16 | (frac>>16)&0xFFFF
}

// compactNtpDelta computes the 16.16 fixed-point duration between two
// compact NTP timestamps, wrapping modulo 2^32 as RFC3550 DLSR arithmetic
// requires.
func compactNtpDelta(now, then uint32) uint32 {
	return now - then
}
