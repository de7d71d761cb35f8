package rtcpengine

import (
	"github.com/pion/rtcp"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtcendpoint/internal/rtpstats"
)

// ipPacketOverhead is subtracted from the configured MTU to get the RTCP
// compound packet budget, per spec.md §4.9 ("IP_PACKET_SIZE - 28").
const ipPacketOverhead = 28

// senderState is what this engine remembers about one remote media SSRC's
// most recently absorbed Sender Report, per spec.md §4.9's SR absorption.
type senderState struct {
	haveSR bool

	remoteNtpTime Ntp
	remoteRtpTime uint32
	packetCount   uint32
	octetCount    uint32

	lastReceivedSrNtp Ntp
}

// Engine absorbs inbound compound RTCP (SR for remote senders) and builds
// outbound compound RR for one peer's set of inbound media SSRCs.
type Engine struct {
	senders map[uint32]*senderState
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{senders: make(map[uint32]*senderState)}
}

// AbsorbCompound parses an inbound (already SRTCP-unprotected) compound RTCP
// packet and updates sender state for any Sender Reports it contains, per
// spec.md §4.9.
func (e *Engine) AbsorbCompound(buf []byte, nowUnixMs int64) error {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return errors.Errorf("unmarshal compound RTCP: %v", err)
	}

	for _, p := range packets {
		if sr, ok := p.(*rtcp.SenderReport); ok {
			e.absorbSenderReport(sr, nowUnixMs)
		}
	}
	return nil
}

func (e *Engine) absorbSenderReport(sr *rtcp.SenderReport, nowUnixMs int64) {
	st, ok := e.senders[sr.SSRC]
	if !ok {
		st = &senderState{}
		e.senders[sr.SSRC] = st
	}

	st.haveSR = true
	st.remoteNtpTime = Ntp(sr.NTPTime)
	st.remoteRtpTime = sr.RTPTime
	st.packetCount = sr.PacketCount
	st.octetCount = sr.OctetCount
	st.lastReceivedSrNtp = NtpFromUnixMs(nowUnixMs)
}

// BuildCompoundRR assembles one outbound compound RTCP packet containing one
// Receiver Report with a report block per tracked SSRC, per spec.md §4.9.
// SSRCs whose BuildReportBlock returns ok=false (stale/never received) are
// omitted. mtu bounds the serialized size; blocks beyond the budget are
// dropped and the caller should log the truncation.
func (e *Engine) BuildCompoundRR(senderSSRC uint32, stats map[uint32]*rtpstats.PerSsrcStat, nowUnixMs int64, mtu int) ([]byte, bool, int) {
	nowCompact := CompactNtp(NtpFromUnixMs(nowUnixMs))

	var blocks []rtcp.ReceptionReport
	for ssrc, s := range stats {
		rb, ok := s.BuildReportBlock(nowUnixMs)
		if !ok {
			continue
		}

		rr := rtcp.ReceptionReport{
			SSRC:               ssrc,
			FractionLost:       rb.FractionLost,
			TotalLost:          uint32(rb.PacketsLostTotal),
			LastSequenceNumber: rb.ExtHighestSeq,
			Jitter:             rb.JitterTicks,
		}

		if st, haveState := e.senders[ssrc]; haveState && st.haveSR {
			rr.LastSenderReport = CompactNtp(st.remoteNtpTime)
			rr.Delay = compactNtpDelta(nowCompact, CompactNtp(st.lastReceivedSrNtp))
		}

		blocks = append(blocks, rr)
	}

	if len(blocks) == 0 {
		return nil, false, 0
	}

	budget := mtu - ipPacketOverhead
	fitted, dropped := fitReportBlocks(blocks, budget)

	rr := &rtcp.ReceiverReport{SSRC: senderSSRC, Reports: fitted}
	out, err := rtcp.Marshal([]rtcp.Packet{rr})
	if err != nil {
		return nil, false, dropped
	}
	return out, true, dropped
}

// fitReportBlocks trims blocks to fit within budget bytes, per spec.md
// §4.9's packet-budget rule, returning how many were dropped so the caller
// can log the truncation (no silent coverage loss).
func fitReportBlocks(blocks []rtcp.ReceptionReport, budget int) ([]rtcp.ReceptionReport, int) {
	// Fixed RR header (8 bytes) + one 24-byte report block per SSRC.
	const rrHeaderSize = 8
	const blockSize = 24

	maxBlocks := (budget - rrHeaderSize) / blockSize
	if maxBlocks < 0 {
		maxBlocks = 0
	}
	if maxBlocks >= len(blocks) {
		return blocks, 0
	}
	return blocks[:maxBlocks], len(blocks) - maxBlocks
}
