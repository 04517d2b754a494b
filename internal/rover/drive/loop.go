package drive

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/protocol"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var (
	_ core.OrientationSource = (*SimulatedOrientation)(nil)
	_ core.OrientationSource = (*ReaderOrientation)(nil)
)

// Channel is the part of the control channel the loop drives.
type Channel interface {
	Open(ep core.Endpoint) error
	Close()
	Send(cmd core.Command) error
	State() core.State
}

// LoopOptions configure a Loop.
type LoopOptions struct {
	// Tick is the period of speed submissions.
	Tick           time.Duration
	SamplingPeriod time.Duration
	MaxThrottle    int
	Clock          clock.WithTicker
	Metrics        *metrics.Metrics
}

func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		Tick:           33 * time.Millisecond,
		SamplingPeriod: DefaultSamplingPeriod,
		MaxThrottle:    DefaultMaxThrottle,
		Clock:          clock.RealClock{},
	}
}

// Loop couples orientation and throttle input to the control channel. It
// keeps submitting whether or not the channel is connected.
type Loop struct {
	channel     Channel
	orientation core.OrientationSource
	throttle    *Throttle
	opts        LoopOptions
	log         *logrus.Entry

	lastBeta atomic.Uint64
	dropped  atomic.Uint64
}

func NewLoop(channel Channel, orientation core.OrientationSource, opts LoopOptions) *Loop {
	def := DefaultLoopOptions()
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.SamplingPeriod <= 0 {
		opts.SamplingPeriod = def.SamplingPeriod
	}
	if opts.MaxThrottle <= 0 {
		opts.MaxThrottle = def.MaxThrottle
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	return &Loop{
		channel:     channel,
		orientation: orientation,
		throttle:    NewThrottle(opts.MaxThrottle),
		opts:        opts,
		log:         util.ComponentLogger("drive"),
	}
}

// Run samples orientation and ticks speed until ctx is done. It returns
// nil; send failures never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.orientation.SetSamplingPeriod(l.opts.SamplingPeriod)
	sub := l.orientation.Subscribe(l.onOrientation)
	defer l.orientation.Unsubscribe(sub)

	ticker := l.opts.Clock.NewTicker(l.opts.Tick)
	defer ticker.Stop()

	l.log.WithFields(logrus.Fields{
		"tick":     l.opts.Tick,
		"sampling": l.opts.SamplingPeriod,
	}).Debug("Control loop running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			l.submit(core.Command{Kind: core.KindSpeed, Value: l.throttle.Speed()})
		}
	}
}

// onOrientation converts a radian sample and submits it as steering.
func (l *Loop) onOrientation(angle float64) {
	deg := protocol.RadiansToDegrees(angle)
	l.lastBeta.Store(math.Float64bits(deg))
	l.opts.Metrics.OrientationSample()
	l.submit(core.Command{Kind: core.KindBeta, Value: deg})
}

func (l *Loop) submit(cmd core.Command) {
	cmd.Timestamp = l.opts.Clock.Now()
	err := l.channel.Send(cmd)
	if err == nil {
		return
	}
	l.dropped.Add(1)
	if !errors.Is(err, core.ErrNotConnected) {
		l.log.WithError(err).Debug("Command not accepted")
	}
}

// Connect opens the channel to ep.
func (l *Loop) Connect(ep core.Endpoint) error {
	if err := l.channel.Open(ep); err != nil {
		return err
	}
	l.log.WithField("endpoint", ep.String()).Info("Connecting to vehicle")
	return nil
}

// Disconnect closes the channel and stops its retries.
func (l *Loop) Disconnect() {
	l.channel.Close()
	l.log.Info("Disconnected from vehicle")
}

func (l *Loop) State() core.State {
	return l.channel.State()
}

func (l *Loop) Throttle() *Throttle {
	return l.throttle
}

// LastBeta is the most recent steering value in degrees.
func (l *Loop) LastBeta() float64 {
	return math.Float64frombits(l.lastBeta.Load())
}

// Dropped counts submissions the channel refused.
func (l *Loop) Dropped() uint64 {
	return l.dropped.Load()
}
