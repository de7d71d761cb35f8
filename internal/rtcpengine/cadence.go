package rtcpengine

import (
	"math/rand"
	"time"

	"github.com/lanikai/rtcendpoint/internal/reactor"
)

// Scheduler drives the repeating RTCP compound-report cadence described in
// spec.md §4.9: a base interval per media type, re-randomised every cycle in
// [base/2, 3*base/2]. Grounded in the teacher's rtpWriter's use of
// math/rand for send-side jitver (internal/rtp/stream.go), generalized from
// a one-shot jitter offset into a recurring randomised interval.
type Scheduler struct {
	r        *reactor.Reactor
	baseMs   int64
	timer    *reactor.Timer
	fn       func()
}

// NewScheduler creates a cadence scheduler with the given base interval.
func NewScheduler(r *reactor.Reactor, baseMs int64, fn func()) *Scheduler {
	return &Scheduler{r: r, baseMs: baseMs, fn: fn}
}

// Start schedules the first cycle. Must be called from the reactor
// goroutine.
func (s *Scheduler) Start() {
	s.scheduleNext()
}

// Stop cancels the scheduler.
func (s *Scheduler) Stop() {
	if s.timer != nil {
		s.timer.Cancel()
	}
}

func (s *Scheduler) scheduleNext() {
	interval := s.randomizedInterval()
	s.timer = s.r.AfterFunc(time.Duration(interval)*time.Millisecond, s.tick)
}

func (s *Scheduler) tick() {
	s.fn()
	s.scheduleNext()
}

// randomizedInterval implements spec.md §4.9: uniformly randomised in
// [base/2, 3*base/2].
func (s *Scheduler) randomizedInterval() int64 {
	lo := s.baseMs / 2
	hi := 3 * s.baseMs / 2
	if hi <= lo {
		return s.baseMs
	}
	return lo + rand.Int63n(hi-lo+1)
}
