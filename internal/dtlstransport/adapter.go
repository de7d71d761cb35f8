// Package dtlstransport implements the DTLS record demux and server-role
// handshake described in spec.md §4.7, wiring github.com/pion/dtls/v3 as the
// handshake engine. The teacher's own internal/dtls fork is a client-role,
// partially stubbed port of an older pions/dtls snapshot (see its dtls.go's
// commented-out dialer and "TODO fix fragment len" in the record
// marshaller) and cannot perform a spec-compliant server handshake with
// use_srtp negotiation and exporter support, so that engine is not reused
// here. What is reused is the teacher's internal/mux/endpoint.go shape: a
// bounded circular queue of fixed-size buffers exposed as a blocking reader,
// adapted from a generic mux endpoint into a single-purpose, two-slot DTLS
// record queue.
package dtlstransport

import (
	"errors"
	"io"
	"net"
	"time"
)

// maxPendingRecords and maxRecordSize bound the adapter's inbound queue, per
// spec.md §4.7.
const (
	maxPendingRecords = 2
	maxRecordSize     = 2048
)

// ErrQueueClosed is returned by Read/Write once the adapter has been closed.
var ErrQueueClosed = errors.New("dtlstransport: adapter closed")

// recordAdapter implements net.Conn over a bounded queue of pending DTLS
// records. The DTLS engine's Handshake/Read calls drain the queue; its
// writes are forwarded to the ICE channel via send.
//
// Grounded in the teacher's internal/mux/endpoint.go Endpoint: same circular
// buffer-pool idea, narrowed to net.Conn's synchronous Read/Write contract
// instead of the teacher's non-blocking deliver/available-channel API,
// because pion/dtls drives the adapter with ordinary blocking net.Conn
// semantics.
type recordAdapter struct {
	pending chan []byte

	send func(b []byte)

	localAddr  net.Addr
	remoteAddr net.Addr

	closed    chan struct{}
	closeOnce bool

	readDeadline time.Time
}

func newRecordAdapter(local, remote net.Addr, send func(b []byte)) *recordAdapter {
	return &recordAdapter{
		pending:    make(chan []byte, maxPendingRecords),
		send:       send,
		localAddr:  local,
		remoteAddr: remote,
		closed:     make(chan struct{}),
	}
}

// deliver enqueues one received (and already SRTP/DTLS-demultiplexed) record
// for the engine to read. Must be called from the owning reactor goroutine.
// If the queue is full, the oldest pending record is dropped to make room --
// the adapter favors forward progress on the handshake over completeness of
// any single retransmitted flight, since DTLS itself retransmits.
func (a *recordAdapter) deliver(record []byte) {
	if len(record) > maxRecordSize {
		return
	}
	buf := make([]byte, len(record))
	copy(buf, record)

	select {
	case a.pending <- buf:
		return
	default:
	}

	select {
	case <-a.pending:
	default:
	}
	select {
	case a.pending <- buf:
	default:
	}
}

func (a *recordAdapter) Read(b []byte) (int, error) {
	var timeout <-chan time.Time
	if !a.readDeadline.IsZero() {
		if d := time.Until(a.readDeadline); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			timeout = t.C
		} else {
			return 0, timeoutError{}
		}
	}

	select {
	case rec := <-a.pending:
		n := copy(b, rec)
		return n, nil
	case <-timeout:
		return 0, timeoutError{}
	case <-a.closed:
		return 0, io.EOF
	}
}

func (a *recordAdapter) Write(b []byte) (int, error) {
	select {
	case <-a.closed:
		return 0, ErrQueueClosed
	default:
	}
	a.send(b)
	return len(b), nil
}

func (a *recordAdapter) Close() error {
	if a.closeOnce {
		return nil
	}
	a.closeOnce = true
	close(a.closed)
	return nil
}

func (a *recordAdapter) LocalAddr() net.Addr  { return a.localAddr }
func (a *recordAdapter) RemoteAddr() net.Addr { return a.remoteAddr }

func (a *recordAdapter) SetDeadline(t time.Time) error {
	a.readDeadline = t
	return nil
}

func (a *recordAdapter) SetReadDeadline(t time.Time) error {
	a.readDeadline = t
	return nil
}

func (a *recordAdapter) SetWriteDeadline(t time.Time) error { return nil }

type timeoutError struct{}

func (timeoutError) Error() string   { return "dtlstransport: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
