package sim

import (
	"context"
	"sync"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
)

// Received is one decoded command as seen by the vehicle.
type Received struct {
	Command    core.Command
	Connection string
	At         time.Time
}

// Recorder keeps every command the vehicle decoded, in arrival order.
type Recorder struct {
	mu      sync.Mutex
	records []Received
	changed chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) add(rec Received) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	close(r.changed)
	r.changed = make(chan struct{})
}

// Records returns a copy of everything received so far.
func (r *Recorder) Records() []Received {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Received, len(r.records))
	copy(out, r.records)
	return out
}

// Last returns the newest command of kind.
func (r *Recorder) Last(kind core.Kind) (core.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Command.Kind == kind {
			return r.records[i].Command, true
		}
	}
	return core.Command{}, false
}

// Wait blocks until at least n records arrived.
func (r *Recorder) Wait(ctx context.Context, n int) ([]Received, error) {
	for {
		r.mu.Lock()
		if len(r.records) >= n {
			out := make([]Received, len(r.records))
			copy(out, r.records)
			r.mu.Unlock()
			return out, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return r.Records(), ctx.Err()
		case <-changed:
		}
	}
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
