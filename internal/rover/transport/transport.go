package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSendBuffer is the number of encoded records a connection may
	// hold before TrySend starts dropping.
	DefaultSendBuffer = 4
	// DefaultWriteTimeout bounds a single socket write in the writer goroutine.
	DefaultWriteTimeout = 2 * time.Second
)

// Conn is an established duplex session with the vehicle. Writes are
// queued and never block the caller.
type Conn interface {
	// TrySend queues one encoded record. It returns core.ErrBackpressure
	// when the queue is full and core.ErrClosed once the session ended.
	TrySend(data []byte) error
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended.
	Err() error
	Close() error
	RemoteAddr() string
}

// Dialer opens sessions. Dial must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, ep core.Endpoint) (Conn, error)
}

// Options tune a dialer.
type Options struct {
	Path         string
	SendBuffer   int
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Path == "" {
		o.Path = "/"
	}
	return o
}

// NewDialer selects a transport by name: "ws" (default) or "tcp".
func NewDialer(name string, opts Options) (Dialer, error) {
	switch strings.ToLower(name) {
	case "", "ws", "websocket":
		return &WSDialer{Options: opts.withDefaults()}, nil
	case "tcp":
		return &TCPDialer{Options: opts.withDefaults()}, nil
	default:
		return nil, errors.Errorf("unknown control transport %q", name)
	}
}

// pump owns the outbound queue and the lifecycle shared by all transports.
type pump struct {
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeFn   func() error

	mu  sync.Mutex
	err error

	log *logrus.Entry
}

func newPump(sendBuffer int, closeFn func() error, log *logrus.Entry) *pump {
	return &pump{
		out:     make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
		log:     log,
	}
}

func (p *pump) TrySend(data []byte) error {
	select {
	case <-p.done:
		return core.ErrClosed
	default:
	}

	select {
	case p.out <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (p *pump) Done() <-chan struct{} {
	return p.done
}

func (p *pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pump) Close() error {
	p.fail(core.ErrClosed)
	return nil
}

// fail ends the session once; the first error wins.
func (p *pump) fail(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
		if cerr := p.closeFn(); cerr != nil {
			p.log.WithError(cerr).Debug("Error closing socket")
		}
	})
}

func (p *pump) writeLoop(write func([]byte) error) {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.out:
			if err := write(data); err != nil {
				p.fail(errors.Wrap(err, "write failed"))
				return
			}
		}
	}
}

func (p *pump) readLoop(read func() error) {
	for {
		if err := read(); err != nil {
			p.fail(err)
			return
		}
	}
}
