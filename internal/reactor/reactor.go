// Package reactor implements the single-threaded cooperative event loop that
// every worker shard runs on: readiness-driven socket I/O, one-shot and
// repeating timers, and cross-goroutine handoff, all serialized onto one
// goroutine so that per-peer state never needs a mutex.
//
// This is the idiomatic-Go rendering of the cooperative epoll reactor the
// specification describes. Go has no portable non-blocking readiness API
// exposed through net.Conn, so instead of registering fd watchers directly,
// producers (the UDP socket reader goroutine, timers, other shards) hand work
// to the reactor goroutine as closures via Post. That preserves the important
// property: all mutation of a shard's peers happens on exactly one goroutine.
package reactor

import (
	"container/heap"
	"time"
)

// job is a closure to run on the reactor goroutine.
type job func()

// Reactor serializes all work for one worker shard onto a single goroutine.
type Reactor struct {
	posted chan job
	timers timerHeap
	// timers is only touched on the reactor goroutine, but the returned
	// *Timer must be safely cancelable from any goroutine, so cancellation
	// is itself posted.
	nextTimerID uint64
	quit        chan struct{}
	done        chan struct{}
}

// New creates a Reactor. Call Run in its own goroutine to start the loop.
func New() *Reactor {
	return &Reactor{
		posted: make(chan job, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Now returns the reactor's clock: wall-clock milliseconds since the Unix
// epoch. It is not monotonic and follows any system clock adjustment.
func Now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Post enqueues fn to run on the reactor goroutine. Safe to call from any
// goroutine, including the reactor goroutine itself (fn then runs on the next
// iteration, never reentrantly).
func (r *Reactor) Post(fn func()) {
	select {
	case r.posted <- fn:
	case <-r.quit:
	}
}

// Stop terminates the reactor loop. It does not wait for in-flight timers'
// deferred cleanup; callers that need that should post their own completion
// signal.
func (r *Reactor) Stop() {
	close(r.quit)
	<-r.done
}

// Run executes the reactor loop until Stop is called. Must be invoked from
// its own goroutine; it never returns otherwise.
func (r *Reactor) Run() {
	defer close(r.done)

	var wake *time.Timer
	defer func() {
		if wake != nil {
			wake.Stop()
		}
	}()

	for {
		var wakeC <-chan time.Time
		if r.timers.Len() > 0 {
			d := time.Duration(r.timers[0].deadline-Now()) * time.Millisecond
			if d < 0 {
				d = 0
			}
			if wake == nil {
				wake = time.NewTimer(d)
			} else {
				if !wake.Stop() {
					select {
					case <-wake.C:
					default:
					}
				}
				wake.Reset(d)
			}
			wakeC = wake.C
		}

		select {
		case <-r.quit:
			return
		case fn := <-r.posted:
			fn()
		case <-wakeC:
		}

		// Fire every timer whose deadline has passed. A handler may cancel or
		// schedule further timers; re-check the heap top each iteration.
		now := Now()
		for r.timers.Len() > 0 && r.timers[0].deadline <= now {
			t := heap.Pop(&r.timers).(*timerEntry)
			if t.canceled {
				continue
			}
			t.fn()
			if t.repeat > 0 && !t.canceled {
				t.deadline = now + t.repeat
				heap.Push(&r.timers, t)
			}
		}
	}
}

// Timer is a handle to a scheduled timer. Cancel is safe from any goroutine.
type Timer struct {
	r     *Reactor
	entry *timerEntry
}

// Cancel stops the timer. If it already fired, Cancel is a no-op.
func (t *Timer) Cancel() {
	t.r.Post(func() {
		t.entry.canceled = true
	})
}

type timerEntry struct {
	id       uint64
	deadline int64 // ms, reactor clock
	repeat   int64 // ms; 0 for one-shot
	fn       func()
	canceled bool
	index    int // heap index
}

// AfterFunc schedules fn to run once after d has elapsed, measured on the
// reactor's clock. Must be called from the reactor goroutine (e.g. from
// inside a handler); cross-goroutine callers should go through Post first.
func (r *Reactor) AfterFunc(d time.Duration, fn func()) *Timer {
	r.nextTimerID++
	e := &timerEntry{
		id:       r.nextTimerID,
		deadline: Now() + d.Milliseconds(),
		fn:       fn,
	}
	heap.Push(&r.timers, e)
	return &Timer{r: r, entry: e}
}

// TickFunc schedules fn to run every d, starting after the first interval
// elapses. Must be called from the reactor goroutine.
func (r *Reactor) TickFunc(d time.Duration, fn func()) *Timer {
	r.nextTimerID++
	e := &timerEntry{
		id:       r.nextTimerID,
		deadline: Now() + d.Milliseconds(),
		repeat:   d.Milliseconds(),
		fn:       fn,
	}
	heap.Push(&r.timers, e)
	return &Timer{r: r, entry: e}
}

// Reschedule changes a repeating timer's period, taking effect on its next
// firing. Must be called from the reactor goroutine.
func (r *Reactor) Reschedule(t *Timer, d time.Duration) {
	t.entry.repeat = d.Milliseconds()
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
