package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/rtcendpoint/internal/dtlstransport"
)

func TestAggregateAllNewIsNew(t *testing.T) {
	ts := newTransportState()
	assert.Equal(t, StateNew, Aggregate([]transportState{ts}))
}

func TestAggregateNoTransportsIsNew(t *testing.T) {
	assert.Equal(t, StateNew, Aggregate(nil))
}

func TestAggregateConnectingWhileIceCheckingDtlsNew(t *testing.T) {
	ts := newTransportState()
	ts.iceChecking = true
	ts.iceNew = false
	assert.Equal(t, StateConnecting, Aggregate([]transportState{ts}))
}

func TestAggregateConnectedWhenIceCompletedAndDtlsConnected(t *testing.T) {
	ts := transportState{}
	ts.updateFromDtls(dtlstransport.StateConnected)
	ts.iceConnected = true
	assert.Equal(t, StateConnected, Aggregate([]transportState{ts}))
}

func TestAggregateFailedDominatesConnected(t *testing.T) {
	connected := transportState{}
	connected.updateFromDtls(dtlstransport.StateConnected)
	connected.iceConnected = true

	failed := transportState{}
	failed.updateFromDtls(dtlstransport.StateFailed)

	assert.Equal(t, StateFailed, Aggregate([]transportState{connected, failed}))
}

func TestAggregateDisconnectedWhenSelectedConnectionTimesOut(t *testing.T) {
	ts := transportState{}
	ts.updateFromDtls(dtlstransport.StateConnected)
	ts.iceDisconnected = true

	assert.Equal(t, StateDisconnected, Aggregate([]transportState{ts}))
}

func TestAggregateClosedCountsAsNewOrConnectedDependingOnPeer(t *testing.T) {
	// A closed transport alongside an all-new one still aggregates to New.
	closedTs := transportState{iceClosed: true, dtlsClosed: true}
	newTs := newTransportState()

	assert.Equal(t, StateNew, Aggregate([]transportState{closedTs, newTs}))

	// A closed transport alongside a connected one aggregates to Connected.
	connectedTs := transportState{}
	connectedTs.updateFromDtls(dtlstransport.StateConnected)
	connectedTs.iceConnected = true

	assert.Equal(t, StateConnected, Aggregate([]transportState{closedTs, connectedTs}))
}
