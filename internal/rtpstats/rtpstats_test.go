package rtpstats

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq, Timestamp: ts, Version: 2}}
}

func TestNoLossCumulativeZero(t *testing.T) {
	s, err := NewPerSsrcStat(1, 90000)
	require.NoError(t, err)
	now := int64(0)
	for i := 0; i < 20; i++ {
		s.Update(pkt(uint16(100+i), uint32(i*3000)), now)
		now += 20
	}

	assert.Equal(t, int64(0), s.cumulativeLoss)
	assert.Equal(t, int64(119), s.receivedSeqMax)
}

func TestLossAccountingScenario(t *testing.T) {
	// spec.md §8 scenario 5 / invariant: seq [1..10] \ {4,5} arrive; the next
	// report's packets_lost increases by exactly K=2, and ext_highest_seq=10.
	// exp per spec.md §4.9 is received_seq_max - last_report_seq_max, which
	// for a first report starting at seq 1 is 10-0=10, giving fraction_lost
	// = 255*2/10 = 51 under the spec's exact (non-"+1") formula.
	s, err := NewPerSsrcStat(1, 90000)
	require.NoError(t, err)
	now := int64(0)
	for _, seq := range []uint16{1, 2, 3, 6, 7, 8, 9, 10} {
		s.Update(pkt(seq, uint32(seq)*3000), now)
		now += 25
	}

	rb, ok := s.BuildReportBlock(now)
	require.True(t, ok)

	assert.Equal(t, uint32(10), rb.ExtHighestSeq)
	assert.Equal(t, int32(2), rb.PacketsLostTotal)
	assert.Equal(t, uint8(51), rb.FractionLost)
}

func TestSequenceMutationBoundary(t *testing.T) {
	s, err := NewPerSsrcStat(1, 90000)
	require.NoError(t, err)
	now := int64(0)

	// Establish a stream at seq 1000 (small enough that a later jump to 100
	// doesn't itself look like a 16-bit wraparound).
	s.Update(pkt(1000, 0), now)
	now += 20

	// A jump of >450 arms the sentinel and is treated as a reorder.
	s.Update(pkt(100, 3000), now)
	now += 20
	assert.True(t, s.sentinelArmed)
	assert.Equal(t, int64(1000), s.receivedSeqMax, "sentinel arm must not move received_seq_max")

	// The immediate follow-up at sentinel+1 resets received_seq_max to
	// sentinel-1 (here, unwrapped seq64 for 101, minus 2 = 99), then takes
	// the in-order path, which advances it to 101.
	s.Update(pkt(101, 3100), now)

	assert.False(t, s.sentinelArmed)
	assert.Equal(t, int64(101), s.receivedSeqMax)
}

func TestReportBlockSkippedWhenStale(t *testing.T) {
	s, err := NewPerSsrcStat(1, 90000)
	require.NoError(t, err)
	s.Update(pkt(1, 0), 0)

	_, ok := s.BuildReportBlock(reportBlockMaxAgeMs + 1)
	assert.False(t, ok)
}

func TestIsRTPAndIsRTCPTyping(t *testing.T) {
	rtpHdr := []byte{0x80, 0x60, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.True(t, IsRTP(rtpHdr))
	assert.False(t, IsRTCP(rtpHdr))

	rtcpHdr := []byte{0x80, 200, 0, 0}
	assert.True(t, IsRTCP(rtcpHdr))
	assert.False(t, IsRTP(rtcpHdr))
}
