// Package peer composes one peer's ICE channel, DTLS transport, SRTP
// session, and per-media RTP/RTCP pipelines, and aggregates their individual
// lifecycle states into the single PeerState the signaling layer observes,
// per spec.md §4.10. Grounded in the teacher's peer_connection.go, which
// owns the equivalent per-connection object graph (one ICE agent, one DTLS
// engine, one SRTP context) but in a client, single-video-track shape; this
// package generalizes it to the spec's server-role, receive-only,
// multi-media-section controller.
package peer

import (
	"github.com/lanikai/rtcendpoint/internal/dtlstransport"
	"github.com/lanikai/rtcendpoint/internal/ice"
)

// State is the aggregate peer lifecycle exposed to signaling, per spec.md
// §4.10.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// transportState is one (ICE channel, DTLS transport) pair's contribution to
// the aggregate, per spec.md §4.10 ("one pair per transport -- typically one
// after BUNDLE").
type transportState struct {
	iceConnected    bool // ICE Completed
	iceChecking     bool
	iceDisconnected bool
	iceNew          bool
	iceClosed       bool

	dtlsConnecting bool
	dtlsConnected  bool
	dtlsNew        bool
	dtlsClosed     bool
	dtlsFailed     bool
}

func newTransportState() transportState {
	return transportState{iceNew: true, dtlsNew: true}
}

// updateFromIce folds an ICE channel's selected-connection state into this
// transport's contribution. "Completed" here means the selected connection
// is writable (its nomination state is not checked); "Checking" means pinging without yet being selected;
// "Disconnected" means a previously-writable connection has timed out.
func (ts *transportState) updateFromIce(ch *ice.Channel) {
	ts.iceNew = false
	ts.iceChecking = false
	ts.iceDisconnected = false
	ts.iceClosed = false

	switch {
	case ch.Selected != nil && ch.Selected.WriteState == ice.WriteWritable:
		ts.iceConnected = true
	case ch.Selected != nil && ch.Selected.WriteState == ice.WriteTimeout:
		ts.iceConnected = false
		ts.iceDisconnected = true
	case ch.HasPingableConnection():
		ts.iceConnected = false
		ts.iceChecking = true
	default:
		ts.iceConnected = false
		ts.iceNew = true
	}
}

// updateFromDtls folds a DTLS transport's state into this transport's
// contribution.
func (ts *transportState) updateFromDtls(state dtlstransport.State) {
	ts.dtlsNew = false
	ts.dtlsConnecting = false
	ts.dtlsConnected = false
	ts.dtlsClosed = false
	ts.dtlsFailed = false

	switch state {
	case dtlstransport.StateNew:
		ts.dtlsNew = true
	case dtlstransport.StateConnecting:
		ts.dtlsConnecting = true
	case dtlstransport.StateConnected:
		ts.dtlsConnected = true
	case dtlstransport.StateClosed:
		ts.dtlsClosed = true
	case dtlstransport.StateFailed:
		ts.dtlsFailed = true
	}
}

// Aggregate implements spec.md §4.10's transition rules over the set of
// transport states (one per media section, typically one after BUNDLE).
func Aggregate(transports []transportState) State {
	if len(transports) == 0 {
		return StateNew
	}

	anyFailed := false
	anyDisconnected := false
	allNewOrClosed := true
	anyCheckingConnectingOrNew := false
	connectedOrClosedOrCompleted := true

	for _, ts := range transports {
		if ts.dtlsFailed {
			anyFailed = true
		}
		if ts.iceDisconnected {
			anyDisconnected = true
		}

		isNewOrClosed := (ts.iceNew || ts.iceClosed) && (ts.dtlsNew || ts.dtlsClosed)
		if !isNewOrClosed {
			allNewOrClosed = false
		}

		if ts.iceChecking || ts.dtlsConnecting || ts.iceNew || ts.dtlsNew {
			anyCheckingConnectingOrNew = true
		}

		isConnectedClosedOrCompleted := (ts.dtlsConnected || ts.dtlsClosed) && (ts.iceConnected || ts.iceClosed)
		if !isConnectedClosedOrCompleted {
			connectedOrClosedOrCompleted = false
		}
	}

	switch {
	case anyFailed:
		return StateFailed
	case anyDisconnected:
		return StateDisconnected
	case allNewOrClosed:
		return StateNew
	case connectedOrClosedOrCompleted:
		return StateConnected
	case anyCheckingConnectingOrNew:
		return StateConnecting
	default:
		return StateConnecting
	}
}
