package ice

import (
	"net"
	"testing"

	"github.com/lanikai/rtcendpoint/internal/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairPriority(t *testing.T) {
	// Equal priorities: G>D is false, so the tie-break term is 0.
	g, d := uint32(100), uint32(100)
	assert.Equal(t, (uint64(1)<<32)*100+2*100, PairPriority(g, d))

	// Symmetric under swap except for the tie-break term, which favors G>D.
	assert.Equal(t, (uint64(1)<<32)*50+2*200, PairPriority(50, 200))
	assert.Equal(t, (uint64(1)<<32)*50+2*200+1, PairPriority(200, 50))
}

func TestHostCandidatePriorityAndFoundation(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.5").To4(), Port: 5000}
	c := NewHostCandidate(addr, 1)

	assert.Equal(t, TypeHost, c.Type)
	assert.Equal(t, uint32(126)<<24|uint32(65535)<<8|255, c.Priority)
	assert.NotEmpty(t, c.Foundation)

	c2 := NewHostCandidate(addr, 1)
	assert.Equal(t, c.Foundation, c2.Foundation, "foundation must be deterministic for the same candidate shape")
}

func noopSend(msg *stun.Message, addr *net.UDPAddr) {}

func TestConnectionPingThenResponseBecomesWritable(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}, 1)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}, 1)

	c := NewConnection(local, remote, noopSend)
	assert.Equal(t, WriteInit, c.WriteState)

	now := int64(1_000_000)
	c.Ping(now, "remote:local", "password", 12345, true)
	require.Equal(t, 1, c.PendingPingCount())

	tid := c.pings[0].transactionID
	ok := c.OnStunResponse(tid, now+150)
	require.True(t, ok)

	assert.Equal(t, WriteWritable, c.WriteState)
	assert.Equal(t, int64(150), c.RTTMs)
	assert.Equal(t, 0, c.PendingPingCount())
}

func TestConnectionUnknownResponseIgnored(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}, 1)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}, 1)
	c := NewConnection(local, remote, noopSend)

	var bogus [12]byte
	ok := c.OnStunResponse(bogus, 1000)
	assert.False(t, ok)
	assert.Equal(t, WriteInit, c.WriteState)
}

func TestConnectionRTTClamping(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}, 1)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}, 1)
	c := NewConnection(local, remote, noopSend)

	c.updateRTT(1) // below minRTTMs
	assert.Equal(t, int64(minRTTMs), c.RTTMs)

	c2 := NewConnection(local, remote, noopSend)
	c2.updateRTT(999999) // above maxRTTMs
	assert.Equal(t, int64(maxRTTMs), c2.RTTMs)
}

func TestConnectionTooManyFailsRequiresBothConditions(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}, 1)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}, 1)
	c := NewConnection(local, remote, noopSend)

	now := int64(0)
	for i := 0; i < ConnectionWriteConnectFails; i++ {
		c.Ping(now, "u", "p", 1, true)
		now += 10
	}

	// Not yet past the window.
	assert.False(t, c.TooManyFails(now))

	// Past 2*rtt (default initialRTTMs) after the fifth ping.
	assert.True(t, c.TooManyFails(c.pings[ConnectionWriteConnectFails-1].sentAtMs+2*initialRTTMs+1))
}

func TestConnectionErrorResponseRetryableVsFatal(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}, 1)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}, 1)

	c := NewConnection(local, remote, noopSend)
	assert.False(t, c.OnErrorResponse(401))
	assert.False(t, c.destroyed)

	c2 := NewConnection(local, remote, noopSend)
	assert.True(t, c2.OnErrorResponse(700))
	assert.True(t, c2.destroyed)
}

func TestChannelWeakToStrongCadence(t *testing.T) {
	local := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}, 1)
	remote := NewHostCandidate(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}, 1)
	c := NewConnection(local, remote, noopSend)

	ch := &Channel{Connections: []*Connection{c}}

	// Fewer than 3 pings sent => WEAK interval regardless of selection.
	assert.Equal(t, int64(WeakPingIntervalMs), ch.connectionInterval(c))

	c.NumPingsSent = MinPingsAtWeakPingInterval
	c.rttSamples = 1
	assert.Equal(t, int64(StabilizingMs), ch.connectionInterval(c))

	c.rttSamples = 4
	assert.Equal(t, int64(StableMs), ch.connectionInterval(c))
}

func TestUsernameSplit(t *testing.T) {
	local, remote, ok := splitUsername("abcd:wxyz")
	require.True(t, ok)
	assert.Equal(t, "abcd", local)
	assert.Equal(t, "wxyz", remote)

	_, _, ok = splitUsername("no-colon")
	assert.False(t, ok)
}
