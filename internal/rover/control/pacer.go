package control

import (
	"context"
	"sync"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"k8s.io/utils/clock"
)

// pacer coalesces commands per kind and releases at most one value per
// kind per interval. Values are overwritten, never queued.
type pacer struct {
	clock     clock.WithTicker
	intervals map[core.Kind]time.Duration
	emit      func(core.Command)

	mu  sync.Mutex
	run *pacerRun
}

// pacerRun is the pacing state of one connected session. Its goroutines
// exit when the session ends and never touch a later session's values.
type pacerRun struct {
	cancel  context.CancelFunc
	pending map[core.Kind]core.Command
}

func newPacer(clk clock.WithTicker, intervals map[core.Kind]time.Duration, emit func(core.Command)) *pacer {
	return &pacer{
		clock:     clk,
		intervals: intervals,
		emit:      emit,
	}
}

// start begins a new pacing session. Tickers are created before start
// returns so a caller stepping a fake clock afterwards is observed.
func (p *pacer) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil {
		p.run.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &pacerRun{
		cancel:  cancel,
		pending: make(map[core.Kind]core.Command),
	}
	p.run = run

	for kind, interval := range p.intervals {
		ticker := p.clock.NewTicker(interval)
		go p.loop(ctx, run, kind, ticker)
	}
}

// halt ends the session and forgets every pending value.
func (p *pacer) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run == nil {
		return
	}
	p.run.cancel()
	p.run = nil
}

// submit replaces the pending value for cmd.Kind. It reports false when no
// session is running.
func (p *pacer) submit(cmd core.Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run == nil {
		return false
	}
	p.run.pending[cmd.Kind] = cmd
	return true
}

// flush emits the pending value of kind, if any.
func (p *pacer) flush(run *pacerRun, kind core.Kind) bool {
	p.mu.Lock()
	cmd, ok := run.pending[kind]
	if ok {
		delete(run.pending, kind)
	}
	current := p.run == run
	p.mu.Unlock()

	if !ok || !current {
		return false
	}
	p.emit(cmd)
	return true
}

func (p *pacer) loop(ctx context.Context, run *pacerRun, kind core.Kind, ticker clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.flush(run, kind)
		}
	}
}
