package rtcpengine

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtcendpoint/internal/rtpstats"
)

func TestCompactNtpExtraction(t *testing.T) {
	// spec.md §8 scenario 4: NTP sec=0x63FF0000, frac=0x80000000. The
	// compact form is the middle 32 bits: low 16 bits of sec (0x0000) and
	// high 16 bits of frac (0x8000).
	ntp := Ntp(uint64(0x63FF0000)<<32 | uint64(0x80000000))
	assert.Equal(t, uint32(0x00008000), CompactNtp(ntp))
}

func TestSrToRrRoundTrip(t *testing.T) {
	// spec.md §8 scenario 4: receive SR, then 250ms later send RR; expect
	// DLSR ~= 250*65536/1000 = 16384 units (+-1).
	e := New()

	sr := &rtcp.SenderReport{
		SSRC:        0x11223344,
		NTPTime:     uint64(0x63FF0000)<<32 | uint64(0x80000000),
		RTPTime:     900000,
		PacketCount: 1000,
	}
	compound, err := rtcp.Marshal([]rtcp.Packet{sr})
	require.NoError(t, err)

	srArrivalMs := int64(1_700_000_000_000)
	require.NoError(t, e.AbsorbCompound(compound, srArrivalMs))

	s, err2 := rtpstats.NewPerSsrcStat(0x11223344, 90000)
	require.NoError(t, err2)
	s.Update(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1, Version: 2}}, srArrivalMs)

	stats := map[uint32]*rtpstats.PerSsrcStat{0x11223344: s}

	out, ok, dropped := e.BuildCompoundRR(0xAABBCCDD, stats, srArrivalMs+250, 1500)
	require.True(t, ok)
	assert.Equal(t, 0, dropped)

	packets, err := rtcp.Unmarshal(out)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	rr, ok := packets[0].(*rtcp.ReceiverReport)
	require.True(t, ok)
	require.Len(t, rr.Reports, 1)

	expectedLSR := CompactNtp(Ntp(uint64(0x63FF0000)<<32 | uint64(0x80000000)))
	assert.Equal(t, expectedLSR, rr.Reports[0].LastSenderReport)

	expectedDelay := uint32(250 * 65536 / 1000)
	assert.InDelta(t, expectedDelay, rr.Reports[0].Delay, 1)
}

func TestReportBudgetDropsExcessBlocks(t *testing.T) {
	blocks := make([]rtcp.ReceptionReport, 10)
	for i := range blocks {
		blocks[i] = rtcp.ReceptionReport{SSRC: uint32(i)}
	}

	fitted, dropped := fitReportBlocks(blocks, 8+24*3) // room for exactly 3
	assert.Len(t, fitted, 3)
	assert.Equal(t, 7, dropped)
}
