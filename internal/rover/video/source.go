package video

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/josefmoeggis/RobotGUI/internal/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Mode selects how frames are acquired from the vehicle.
type Mode string

const (
	// ModePush reads one frame per message from a WebSocket.
	ModePush Mode = "push"
	// ModePull repeatedly fetches a single frame over HTTP.
	ModePull Mode = "pull"
	// ModeMJPEG reads a multipart/x-mixed-replace HTTP stream.
	ModeMJPEG Mode = "mjpeg"
)

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePush, ModePull, ModeMJPEG:
		return m, nil
	case "":
		return ModePush, nil
	default:
		return "", errors.Errorf("unknown video mode %q (push, pull, mjpeg)", s)
	}
}

// DefaultPath is the resource each mode reads from unless configured.
func (m Mode) DefaultPath() string {
	switch m {
	case ModePull:
		return "/frame"
	case ModeMJPEG:
		return "/stream"
	default:
		return "/"
	}
}

// Source acquires frames and hands them to a core.FrameHandler in
// increasing sequence order. Retries are unbounded; a source never fails.
type Source interface {
	Start(ctx context.Context, ep core.Endpoint) error
	// Stop cancels all scheduling. No frame is delivered after it returns.
	Stop() error
	State() core.State
	Mode() Mode
}

// Options configure every source kind; fields a mode does not use are ignored.
type Options struct {
	// Path overrides Mode.DefaultPath.
	Path string
	// ReconnectDelay is the wait before a push or stream reconnect.
	ReconnectDelay time.Duration
	// FetchBackoff is the wait after a failed pull fetch.
	FetchBackoff time.Duration
	// FetchInterval is the minimum spacing between pull fetches.
	FetchInterval time.Duration
	// FetchTimeout bounds one pull request and every handshake.
	FetchTimeout time.Duration
	// MaxFrameSize caps a single payload.
	MaxFrameSize int64

	HTTPClient *http.Client
	Clock      clock.WithTicker
	Metrics    *metrics.Metrics
}

// DefaultOptions returns the stock retry policy.
func DefaultOptions() Options {
	return Options{
		ReconnectDelay: 5 * time.Second,
		FetchBackoff:   250 * time.Millisecond,
		FetchInterval:  33 * time.Millisecond,
		FetchTimeout:   3 * time.Second,
		MaxFrameSize:   16 << 20,
		Clock:          clock.RealClock{},
	}
}

func (o Options) withDefaults(mode Mode) Options {
	def := DefaultOptions()
	if o.Path == "" {
		o.Path = mode.DefaultPath()
	}
	if !strings.HasPrefix(o.Path, "/") {
		o.Path = "/" + o.Path
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = def.ReconnectDelay
	}
	if o.FetchBackoff <= 0 {
		o.FetchBackoff = def.FetchBackoff
	}
	if o.FetchInterval < 0 {
		o.FetchInterval = 0
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = def.FetchTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = def.MaxFrameSize
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	return o
}

// NewSource builds the source for mode.
func NewSource(mode Mode, handler core.FrameHandler, opts Options) (Source, error) {
	if handler == nil {
		return nil, errors.New("frame handler is required")
	}
	switch mode {
	case ModePush:
		return NewPushSource(handler, opts), nil
	case ModePull:
		return NewPullSource(handler, opts), nil
	case ModeMJPEG:
		return NewMJPEGSource(handler, opts), nil
	default:
		return nil, errors.Errorf("unknown video mode %q", mode)
	}
}

// base carries the lifecycle shared by all sources: a generation counter
// invalidates everything started before the latest Start or Stop.
type base struct {
	mode    Mode
	handler core.FrameHandler
	opts    Options
	log     *logrus.Entry

	gen atomic.Uint64

	mu     sync.Mutex
	state  core.State
	cancel context.CancelFunc

	deliverMu sync.Mutex
	seq       uint64
}

func newBase(mode Mode, handler core.FrameHandler, opts Options) *base {
	return &base{
		mode:    mode,
		handler: handler,
		opts:    opts.withDefaults(mode),
		log:     util.ComponentLogger("video").WithField("mode", string(mode)),
	}
}

func (b *base) Mode() Mode {
	return b.mode
}

func (b *base) State() core.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// start launches loop for a new generation.
func (b *base) start(ctx context.Context, ep core.Endpoint, loop func(ctx context.Context, gen uint64, ep core.Endpoint)) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.Wrap(core.ErrAlreadyOpen, "video source already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	gen := b.gen.Add(1)
	b.state = core.StateConnecting

	b.log.WithField("endpoint", ep.String()).Info("Starting video source")
	go func() {
		loop(ctx, gen, ep)
		b.finished(gen)
	}()
	return nil
}

// finished clears a generation whose loop ended on its own context.
func (b *base) finished(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.current(gen) {
		return
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.state = core.StateDisconnected
}

func (b *base) Stop() error {
	b.mu.Lock()
	b.gen.Add(1)
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.state = core.StateDisconnected
	b.mu.Unlock()

	// Wait out a delivery that raced the generation bump.
	b.deliverMu.Lock()
	b.deliverMu.Unlock()
	return nil
}

func (b *base) current(gen uint64) bool {
	return b.gen.Load() == gen
}

func (b *base) setState(gen uint64, s core.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current(gen) {
		b.state = s
	}
}

// deliver stamps payload with the next sequence number and hands it to the
// handler. Frames from a superseded generation are dropped.
func (b *base) deliver(gen uint64, payload []byte) bool {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	if !b.current(gen) {
		return false
	}

	b.seq++
	frame := core.Frame{
		Payload:     payload,
		Sequence:    b.seq,
		ArrivalTime: b.opts.Clock.Now(),
	}
	if err := b.handler(frame); err != nil {
		b.rejected(frame.Sequence, err)
	}
	return true
}

// rejected logs a single bad frame; the stream continues.
func (b *base) rejected(seq uint64, err error) {
	var decodeErr *core.DecodeError
	if !errors.As(err, &decodeErr) && !errors.Is(err, core.ErrStaleFrame) {
		err = &core.DecodeError{Sequence: seq, Err: err}
	}
	b.log.WithError(err).Debug("Frame skipped")
}

// sleep waits d on the source clock. It reports false if ctx ended first.
func (b *base) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := b.opts.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (b *base) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", version.UserAgent())
	return h
}

func (b *base) httpURL(ep core.Endpoint) string {
	return "http://" + ep.Address() + b.opts.Path
}
