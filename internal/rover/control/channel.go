package control

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/protocol"
	"github.com/josefmoeggis/RobotGUI/internal/rover/transport"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Options configure a Channel.
type Options struct {
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration
	// AutoRetry re-attempts failed connections up to MaxRetries times.
	AutoRetry  bool
	MaxRetries int
	RetryDelay time.Duration
	// Pacing is the minimum spacing between emissions, per kind.
	Pacing map[core.Kind]time.Duration

	Clock   clock.WithTicker
	Metrics *metrics.Metrics
}

// DefaultOptions returns the stock connection policy.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 5 * time.Second,
		AutoRetry:      true,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		Pacing: map[core.Kind]time.Duration{
			core.KindBeta:  20 * time.Millisecond,
			core.KindSpeed: 33 * time.Millisecond,
		},
		Clock: clock.RealClock{},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	pacing := make(map[core.Kind]time.Duration, len(def.Pacing))
	for kind, interval := range def.Pacing {
		if v, ok := o.Pacing[kind]; ok && v > 0 {
			interval = v
		}
		pacing[kind] = interval
	}
	o.Pacing = pacing
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	return o
}

// StateListener observes state transitions in the order they happen.
// Listeners must not call Open or Close.
type StateListener func(from, to core.State)

type transition struct {
	from, to core.State
}

// Channel is a reconnecting command session with one vehicle. At most one
// socket is open at any time.
type Channel struct {
	dialer transport.Dialer
	opts   Options
	clock  clock.WithTicker
	pacer  *pacer
	log    *logrus.Entry

	mu         sync.Mutex
	state      core.State
	endpoint   core.Endpoint
	retryCount int
	lastSend   time.Time
	lastErr    error
	sessionID  string
	conn       transport.Conn
	gen        uint64
	cancel     context.CancelFunc
	changed    chan struct{}
	events     []transition

	notifyMu  sync.Mutex
	listeners []StateListener
}

// NewChannel creates an idle channel.
func NewChannel(dialer transport.Dialer, opts Options) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		dialer:  dialer,
		opts:    opts,
		clock:   opts.Clock,
		log:     util.ComponentLogger("control"),
		state:   core.StateDisconnected,
		changed: make(chan struct{}),
	}
	c.pacer = newPacer(opts.Clock, opts.Pacing, c.emit)
	opts.Metrics.ControlState(core.StateDisconnected)
	return c
}

// Open starts connecting to ep and returns without waiting for the
// handshake. It fails only for an invalid endpoint or when the channel is
// already connecting or connected.
func (c *Channel) Open(ep core.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == core.StateConnecting || c.state == core.StateConnected {
		c.mu.Unlock()
		return errors.Wrapf(core.ErrAlreadyOpen, "channel is %s", c.state)
	}

	// A pending retry belongs to the previous session.
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.endpoint = ep
	c.retryCount = 0
	c.lastErr = nil
	c.sessionID = uuid.NewString()
	c.setStateLocked(core.StateConnecting)
	log := c.log.WithFields(logrus.Fields{"endpoint": ep.String(), "session": c.sessionID})
	c.unlockAndNotify()

	log.Info("Opening control channel")
	go c.run(ctx, gen, log)
	return nil
}

// Close releases the socket, cancels any attempt or pending retry and
// leaves the channel Disconnected. It never waits for network operations.
func (c *Channel) Close() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.pacer.halt()
	c.setStateLocked(core.StateDisconnected)
	c.unlockAndNotify()

	if conn != nil {
		conn.Close()
		c.log.WithField("remote", conn.RemoteAddr()).Info("Control channel closed")
	}
}

// Send hands cmd to the pacer. It never blocks; while the channel is not
// connected the command is discarded and a SendError is returned.
func (c *Channel) Send(cmd core.Command) error {
	if _, ok := protocol.KindName(cmd.Kind); !ok {
		return &core.SendError{Kind: cmd.Kind, Err: errors.New("unknown command kind")}
	}
	if math.IsNaN(cmd.Value) || math.IsInf(cmd.Value, 0) {
		return &core.SendError{Kind: cmd.Kind, Err: errors.New("value is not finite")}
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != core.StateConnected || !c.pacer.submit(cmd) {
		c.opts.Metrics.CommandDropped(cmd.Kind, "not_connected")
		return &core.SendError{Kind: cmd.Kind, Err: core.ErrNotConnected}
	}
	return nil
}

func (c *Channel) IsOpen() bool {
	return c.State() == core.StateConnected
}

func (c *Channel) State() core.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount is the number of failed attempts since the last successful
// connection.
func (c *Channel) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

func (c *Channel) Endpoint() core.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// LastSend is when a record was last handed to the transport.
func (c *Channel) LastSend() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSend
}

// LastError explains the most recent failure. In the Failed state it wraps
// core.ErrExhaustedRetries, or the final ConnectError when auto-retry is off.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID identifies the current Open call in logs.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// OnStateChange registers l for every subsequent transition.
func (c *Channel) OnStateChange(l StateListener) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// WaitForState blocks until the channel is in one of states or ctx is done.
func (c *Channel) WaitForState(ctx context.Context, states ...core.State) (core.State, error) {
	for {
		c.mu.Lock()
		current := c.state
		changed := c.changed
		c.mu.Unlock()

		for _, s := range states {
			if s == current {
				return current, nil
			}
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

// run drives one session: attempts, the connected phase and retries. It
// exits as soon as its generation is superseded.
func (c *Channel) run(ctx context.Context, gen uint64, log *logrus.Entry) {
	for attempt := 1; ; attempt++ {
		if !c.beginAttempt(gen) {
			return
		}

		conn, err := c.attempt(ctx, attempt)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err == nil {
			if !c.connected(gen, conn) {
				conn.Close()
				return
			}
			log.WithField("remote", conn.RemoteAddr()).Info("Control channel connected")

			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
			}
			err = errors.Wrap(conn.Err(), "session lost")
			log.WithError(err).Warn("Control channel dropped")
		} else {
			c.opts.Metrics.ConnectAttempt(attemptResult(err))
			log.WithError(err).Warn("Connection attempt failed")
		}

		timer := c.failed(gen, attempt, err)
		if timer == nil {
			return
		}
		log.WithField("delay", c.opts.RetryDelay).Debug("Retrying connection")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

func (c *Channel) beginAttempt(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(core.StateConnecting)
	c.unlockAndNotify()
	return true
}

// attempt dials once, bounded by the connect timeout. A dial that finishes
// after the timeout or after cancellation has its socket closed.
func (c *Channel) attempt(ctx context.Context, n int) (transport.Conn, error) {
	c.mu.Lock()
	ep := c.endpoint
	c.mu.Unlock()

	type result struct {
		conn transport.Conn
		err  error
	}

	dialCtx, cancel := context.WithCancel(ctx)
	results := make(chan result, 1)
	go func() {
		conn, err := c.dialer.Dial(dialCtx, ep)
		results <- result{conn: conn, err: err}
	}()

	timer := c.clock.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()

	abandon := func() {
		cancel()
		go func() {
			if r := <-results; r.conn != nil {
				r.conn.Close()
			}
		}()
	}

	select {
	case r := <-results:
		cancel()
		if r.err != nil {
			return nil, &core.ConnectError{Endpoint: ep, Attempt: n, Err: r.err}
		}
		return r.conn, nil
	case <-timer.C():
		abandon()
		return nil, &core.ConnectError{Endpoint: ep, Attempt: n, Err: core.ErrConnectTimeout}
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// connected installs conn if gen is still current.
func (c *Channel) connected(gen uint64, conn transport.Conn) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.retryCount = 0
	c.lastErr = nil
	c.pacer.start()
	c.setStateLocked(core.StateConnected)
	c.unlockAndNotify()

	c.opts.Metrics.ConnectAttempt("success")
	return true
}

// failed records a failed attempt or a lost session and returns the retry
// timer, or nil when the channel gave up or was superseded.
func (c *Channel) failed(gen uint64, attempt int, cause error) clock.Timer {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.pacer.halt()
	c.lastErr = cause
	c.setStateLocked(core.StateDisconnected)

	if !c.opts.AutoRetry || c.retryCount >= c.opts.MaxRetries {
		if c.opts.AutoRetry {
			c.lastErr = errors.Wrapf(core.ErrExhaustedRetries, "gave up after %d attempts: %v", attempt, cause)
		}
		c.cancel = nil
		c.setStateLocked(core.StateFailed)
		lastErr := c.lastErr
		c.unlockAndNotify()
		closeConn(conn)
		c.log.WithError(lastErr).Error("Control channel failed")
		return nil
	}

	timer := c.clock.NewTimer(c.opts.RetryDelay)
	c.retryCount++
	c.unlockAndNotify()
	closeConn(conn)
	return timer
}

// emit writes one paced command to the current socket.
func (c *Channel) emit(cmd core.Command) {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		c.opts.Metrics.CommandDropped(cmd.Kind, "encode")
		c.log.WithError(err).Warn("Dropping unencodable command")
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.opts.Metrics.CommandDropped(cmd.Kind, "not_connected")
		return
	}

	if err := conn.TrySend(data); err != nil {
		reason := "closed"
		if errors.Is(err, core.ErrBackpressure) {
			reason = "backpressure"
		}
		c.opts.Metrics.CommandDropped(cmd.Kind, reason)
		c.log.WithError(&core.SendError{Kind: cmd.Kind, Err: err}).Debug("Command dropped")
		return
	}

	c.mu.Lock()
	c.lastSend = c.clock.Now()
	c.mu.Unlock()
	c.opts.Metrics.CommandSent(cmd.Kind)
}

func (c *Channel) setStateLocked(s core.State) {
	if c.state == s {
		return
	}
	c.events = append(c.events, transition{from: c.state, to: s})
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	c.opts.Metrics.ControlState(s)
}

// unlockAndNotify releases c.mu and delivers queued transitions in order.
func (c *Channel) unlockAndNotify() {
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	events := c.events
	c.events = nil
	c.mu.Unlock()

	for _, ev := range events {
		for _, l := range c.listeners {
			l(ev.from, ev.to)
		}
	}
}

func closeConn(conn transport.Conn) {
	if conn != nil {
		conn.Close()
	}
}

func attemptResult(err error) string {
	if errors.Is(err, core.ErrConnectTimeout) {
		return "timeout"
	}
	return "error"
}
