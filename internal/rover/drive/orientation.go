package drive

import (
	"bufio"
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// DefaultSamplingPeriod is the orientation sampling period used until
// SetSamplingPeriod is called.
const DefaultSamplingPeriod = 16 * time.Millisecond

// subscribers is the callback registry shared by orientation sources.
type subscribers struct {
	mu   sync.Mutex
	next core.Subscription
	subs map[core.Subscription]func(float64)
}

func (s *subscribers) add(cb func(float64)) (core.Subscription, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[core.Subscription]func(float64))
	}
	s.next++
	s.subs[s.next] = cb
	return s.next, len(s.subs)
}

func (s *subscribers) remove(id core.Subscription) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return len(s.subs)
}

func (s *subscribers) publish(angle float64) {
	s.mu.Lock()
	cbs := make([]func(float64), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(angle)
	}
}

// SimulatedOrientation sweeps the tilt angle along a sine wave. Sampling
// runs only while someone is subscribed and restarts on the next Subscribe.
type SimulatedOrientation struct {
	clock     clock.WithTicker
	amplitude float64
	period    time.Duration

	subs subscribers

	mu       sync.Mutex
	sampling time.Duration
	started  time.Time
	cancel   context.CancelFunc
}

// NewSimulatedOrientation sweeps between -amplitude and +amplitude radians
// once per period.
func NewSimulatedOrientation(clk clock.WithTicker, amplitude float64, period time.Duration) *SimulatedOrientation {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if period <= 0 {
		period = 4 * time.Second
	}
	return &SimulatedOrientation{
		clock:     clk,
		amplitude: amplitude,
		period:    period,
		sampling:  DefaultSamplingPeriod,
	}
}

func (o *SimulatedOrientation) Subscribe(cb func(angle float64)) core.Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, n := o.subs.add(cb)
	if n == 1 {
		o.restartLocked()
	}
	return id
}

func (o *SimulatedOrientation) Unsubscribe(id core.Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs.remove(id) > 0 {
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func (o *SimulatedOrientation) SetSamplingPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sampling = d
	if o.cancel != nil {
		o.restartLocked()
	}
}

// Angle is the simulated tilt at t.
func (o *SimulatedOrientation) Angle(t time.Time) float64 {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	phase := float64(t.Sub(started)) / float64(o.period)
	return o.amplitude * math.Sin(2*math.Pi*phase)
}

// restartLocked replaces the sampling goroutine. o.mu must be held.
func (o *SimulatedOrientation) restartLocked() {
	if o.cancel != nil {
		o.cancel()
	} else {
		o.started = o.clock.Now()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	ticker := o.clock.NewTicker(o.sampling)
	go o.loop(ctx, ticker)
}

func (o *SimulatedOrientation) loop(ctx context.Context, ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			o.subs.publish(o.Angle(now))
		}
	}
}

// ReaderOrientation reads one angle in radians per line, for example from
// a sensor bridge piped into stdin. Each sampling period delivers the
// newest reading, if a new one arrived.
type ReaderOrientation struct {
	r     io.Reader
	clock clock.WithTicker
	log   *logrus.Entry

	subs subscribers

	mu       sync.Mutex
	sampling time.Duration
	latest   float64
	fresh    bool
	resample chan struct{}
}

func NewReaderOrientation(r io.Reader, clk clock.WithTicker) *ReaderOrientation {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ReaderOrientation{
		r:        r,
		clock:    clk,
		log:      util.ComponentLogger("orientation"),
		sampling: DefaultSamplingPeriod,
		resample: make(chan struct{}, 1),
	}
}

func (o *ReaderOrientation) Subscribe(cb func(angle float64)) core.Subscription {
	id, _ := o.subs.add(cb)
	return id
}

func (o *ReaderOrientation) Unsubscribe(id core.Subscription) {
	o.subs.remove(id)
}

func (o *ReaderOrientation) SetSamplingPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	o.sampling = d
	o.mu.Unlock()
	select {
	case o.resample <- struct{}{}:
	default:
	}
}

// Run reads until EOF or ctx is done. Malformed lines are skipped.
func (o *ReaderOrientation) Run(ctx context.Context) error {
	lines := make(chan float64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- o.read(ctx, lines)
	}()

	o.mu.Lock()
	ticker := o.clock.NewTicker(o.sampling)
	o.mu.Unlock()
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			o.flush()
			return err
		case angle := <-lines:
			o.mu.Lock()
			o.latest = angle
			o.fresh = true
			o.mu.Unlock()
		case <-o.resample:
			ticker.Stop()
			o.mu.Lock()
			ticker = o.clock.NewTicker(o.sampling)
			o.mu.Unlock()
		case <-ticker.C():
			o.flush()
		}
	}
}

func (o *ReaderOrientation) flush() {
	o.mu.Lock()
	angle, fresh := o.latest, o.fresh
	o.fresh = false
	o.mu.Unlock()
	if fresh {
		o.subs.publish(angle)
	}
}

func (o *ReaderOrientation) read(ctx context.Context, lines chan<- float64) error {
	scanner := bufio.NewScanner(o.r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		angle, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(angle) || math.IsInf(angle, 0) {
			o.log.WithField("line", text).Debug("Ignoring malformed orientation sample")
			continue
		}
		select {
		case lines <- angle:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read orientation samples")
	}
	return nil
}
