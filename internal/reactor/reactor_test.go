package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostRunsOnReactorGoroutine(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	done := make(chan int, 1)
	r.Post(func() {
		done <- 42
	})

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Post never ran")
	}
}

func TestAfterFuncFiresOnce(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	var mu sync.Mutex
	count := 0

	r.Post(func() {
		r.AfterFunc(10*time.Millisecond, func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestTickFuncRepeats(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	var mu sync.Mutex
	count := 0

	r.Post(func() {
		r.TickFunc(5*time.Millisecond, func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	})

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 3)
}

func TestTimerCancel(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Stop()

	var mu sync.Mutex
	fired := false

	timerCh := make(chan *Timer, 1)
	r.Post(func() {
		timerCh <- r.AfterFunc(20*time.Millisecond, func() {
			mu.Lock()
			fired = true
			mu.Unlock()
		})
	})
	timer := <-timerCh
	timer.Cancel()

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}
