package video

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// RateCounter counts events in fixed windows. Rate reports the count of
// the last completed window, or zero once a whole window passed without
// events.
type RateCounter struct {
	clock  clock.PassiveClock
	window time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time
	last        int
}

// NewRateCounter starts the first window now.
func NewRateCounter(clk clock.PassiveClock, window time.Duration) *RateCounter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateCounter{
		clock:       clk,
		window:      window,
		windowStart: clk.Now(),
	}
}

func (r *RateCounter) Add() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll(r.clock.Now())
	r.count++
}

func (r *RateCounter) Rate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roll(r.clock.Now())
	return r.last
}

// roll closes every window that ended before now.
func (r *RateCounter) roll(now time.Time) {
	elapsed := now.Sub(r.windowStart)
	if elapsed < r.window {
		return
	}
	if elapsed < 2*r.window {
		r.last = r.count
	} else {
		r.last = 0
	}
	r.windowStart = r.windowStart.Add(elapsed / r.window * r.window)
	r.count = 0
}
