// Package rtpstats implements the per-SSRC receive statistics accounting
// from spec.md §3/§4.9: sequence-number unwrapping, out-of-order and
// sequence-mutation detection, jitter (RFC3550 §6.4.1 Q4 fixed point), and
// cumulative/fraction packet loss for RTCP report-block generation. Hand
// rolled: this is the algorithmic core the specification itself defines
// byte-for-byte, so no library could substitute for it. Grounded in the
// teacher's internal/rtp/rtp.go accounting fields and receiver_report.go's
// report-block assembly, and in original_source/'s receive_stat.cpp, which
// carries the same cumulative_loss/jitter_q4/sentinel-based mutation
// detection this package reproduces. Wire-format (de)serialization of the
// packets this package consumes is delegated to github.com/pion/rtp.
package rtpstats

import (
	"github.com/pion/rtp"
	errors "golang.org/x/xerrors"
)

// mutationSentinelThreshold is the |seq64 - received_seq_max| gap that arms
// the out-of-order/mutation sentinel, per spec.md §4.9.
const mutationSentinelThreshold = 450

// jitterMaxDeltaQ4 bounds the accepted inter-arrival delta before a jitter
// sample is folded in, per spec.md §4.9.
const jitterMaxDeltaQ4 = 450000

// reportBlockMaxAgeMs is how long a SSRC may go silent before its report
// block generation is skipped, per spec.md §4.9.
const reportBlockMaxAgeMs = 8000

// PerSsrcStat tracks one inbound media SSRC's sequence, jitter, and loss
// state, per spec.md §3.
type PerSsrcStat struct {
	SSRC uint32
	ClockRateHz uint32

	initialized bool

	lastUnwrapSeq uint16
	cycles        uint32 // count of 16-bit wraparounds observed

	receivedSeqFirst int64
	receivedSeqMax   int64

	cumulativeLoss int64

	sentinelArmed bool
	sentinel      uint16

	lastTS      uint32
	lastTimeMs  int64
	haveLastTS  bool

	jitterQ4 uint32

	packetsReceived uint64
	lastPacketAtMs  int64

	// last_report_* watermarks for ReportBlock generation, per spec.md §4.9.
	lastReportSeqMax     int64
	lastReportCumLoss    int64
	cumulativeLossOffset int64
}

// NewPerSsrcStat creates a tracker for one SSRC at the given RTP clock rate.
// clockRateHz must be nonzero: updateJitter divides by it on every packet,
// and a zero rate (an SDP media type this endpoint doesn't recognize) would
// silently corrupt every jitter sample instead of failing where the mistake
// was made.
func NewPerSsrcStat(ssrc uint32, clockRateHz uint32) (*PerSsrcStat, error) {
	if clockRateHz == 0 {
		return nil, errors.Errorf("rtpstats: ssrc %d: zero clock rate", ssrc)
	}
	return &PerSsrcStat{SSRC: ssrc, ClockRateHz: clockRateHz}, nil
}

// unwrap extends a 16-bit RTP sequence number into a 64-bit counter,
// tracking wraparounds relative to the last seen raw sequence number.
func (s *PerSsrcStat) unwrap(seq uint16) int64 {
	if !s.initialized {
		s.lastUnwrapSeq = seq
		return int64(seq)
	}

	delta := int32(seq) - int32(s.lastUnwrapSeq)
	switch {
	case delta > 0x8000:
		// Large positive jump in raw terms is really an earlier wrap's tail.
		s.cycles--
	case delta < -0x8000:
		s.cycles++
	}
	s.lastUnwrapSeq = seq

	return int64(s.cycles)<<16 | int64(seq)
}

// Update folds one received RTP packet into this SSRC's statistics, per
// spec.md §4.9's per-SSRC update algorithm. nowMs is the local receive
// timestamp in milliseconds.
func (s *PerSsrcStat) Update(pkt *rtp.Packet, nowMs int64) {
	s.cumulativeLoss--
	s.lastPacketAtMs = nowMs
	s.packetsReceived++

	seq64 := s.unwrap(pkt.SequenceNumber)

	if !s.initialized {
		s.initialized = true
		s.receivedSeqFirst = seq64
		s.receivedSeqMax = seq64 - 1
		s.lastReportSeqMax = seq64 - 1
	}

	if s.sentinelArmed && pkt.SequenceNumber == s.sentinel+1 {
		s.receivedSeqMax = seq64 - 2
		s.sentinelArmed = false
	} else if abs64(seq64-s.receivedSeqMax) > mutationSentinelThreshold {
		s.sentinelArmed = true
		s.sentinel = pkt.SequenceNumber
		s.cumulativeLoss++
		return
	} else if seq64 <= s.receivedSeqMax {
		return
	}

	s.cumulativeLoss += seq64 - s.receivedSeqMax
	s.receivedSeqMax = seq64

	s.updateJitter(pkt, nowMs)

	s.lastTS = pkt.Timestamp
	s.lastTimeMs = nowMs
	s.haveLastTS = true
}

// updateJitter implements spec.md §4.9's RFC3550 §6.4.1 jitter estimator.
func (s *PerSsrcStat) updateJitter(pkt *rtp.Packet, nowMs int64) {
	if !s.haveLastTS || pkt.Timestamp == s.lastTS {
		return
	}
	if s.packetsReceived <= 1 {
		return
	}

	deltaR := (nowMs - s.lastTimeMs) * int64(s.ClockRateHz) / 1000
	d := deltaR - (int64(pkt.Timestamp) - int64(s.lastTS))
	if d < 0 {
		d = -d
	}
	if d >= jitterMaxDeltaQ4 {
		return
	}

	s.jitterQ4 += uint32((d<<4 - int64(s.jitterQ4) + 8) >> 4)
}

// ReportBlock is the subset of an RFC3550 SR/RR report block this package
// computes; the rtcpengine package fills in LSR/DLSR and marshals it.
type ReportBlock struct {
	SSRC             uint32
	FractionLost     uint8
	PacketsLostTotal int32
	ExtHighestSeq    uint32
	JitterTicks      uint32
}

// BuildReportBlock implements spec.md §4.9's ReportBlock generation. It
// returns ok=false if the SSRC has not been heard from recently enough, or
// never received, per the spec's skip condition.
func (s *PerSsrcStat) BuildReportBlock(nowMs int64) (ReportBlock, bool) {
	if !s.initialized || nowMs-s.lastPacketAtMs > reportBlockMaxAgeMs {
		return ReportBlock{}, false
	}

	// spec.md §4.9 / §9: exp omits the "+1" convention uniformly, including
	// on the first report cycle -- last_report_seq_max starts at
	// received_seq_first-1, so this subtraction is correct from the first
	// call.
	exp := s.receivedSeqMax - s.lastReportSeqMax

	lost := s.cumulativeLoss - s.lastReportCumLoss

	var fraction uint8
	if lost > 0 && exp > 0 {
		fraction = uint8(255 * lost / exp)
	}

	total := s.cumulativeLoss + s.cumulativeLossOffset
	if total < 0 {
		s.cumulativeLossOffset -= total
		total = 0
	}
	if total > 0x7FFFFF {
		total = 0x7FFFFF
	}

	rb := ReportBlock{
		SSRC:             s.SSRC,
		FractionLost:     fraction,
		PacketsLostTotal: int32(total),
		ExtHighestSeq:    uint32(s.receivedSeqMax),
		JitterTicks:      s.jitterQ4 >> 4,
	}

	s.lastReportSeqMax = s.receivedSeqMax
	s.lastReportCumLoss = s.cumulativeLoss

	return rb, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// IsRTP implements spec.md §4.9's RTP/RTCP typing for datagrams already
// known to be SRTP-unprotected media: RTP if len>=12, version 2, and the
// payload type is not in RTCP's [64,96) range.
func IsRTP(buf []byte) bool {
	if len(buf) < 12 {
		return false
	}
	if buf[0]>>6 != 2 {
		return false
	}
	pt := buf[1] & 0x7F
	return pt < 64 || pt >= 96
}

// IsRTCP implements spec.md §4.9's RTCP typing.
func IsRTCP(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	if buf[0]>>6 != 2 {
		return false
	}
	pt := buf[1] & 0x7F
	return pt >= 64 && pt < 96
}
