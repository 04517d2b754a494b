package video

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Decoder validates a payload and reports its content type. It must not
// retain or modify the payload.
type Decoder func(payload []byte) (contentType string, err error)

// SniffDecoder accepts any payload whose leading bytes identify an image.
// Pixel data is never inspected.
func SniffDecoder(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", core.ErrEmptyFrame
	}
	ct := http.DetectContentType(payload)
	if !strings.HasPrefix(ct, "image/") {
		return "", errors.Errorf("payload is %s, not an image", ct)
	}
	return ct, nil
}

// Picture is a committed frame ready for display.
type Picture struct {
	Frame       core.Frame
	ContentType string
	CommittedAt time.Time
}

// BufferOptions configure a Buffer.
type BufferOptions struct {
	Decoder Decoder
	// RateWindow is the frame rate window, one second by default.
	RateWindow time.Duration
	Clock      clock.PassiveClock
	Metrics    *metrics.Metrics
}

// BufferStats is a point-in-time summary for status displays.
type BufferStats struct {
	Committed    uint64 `json:"committed"`
	Stale        uint64 `json:"stale"`
	Invalid      uint64 `json:"invalid"`
	LastSequence uint64 `json:"last_sequence"`
	Rate         int    `json:"fps"`
}

// Buffer double-buffers committed frames. The writer fills the slot that
// is not visible and then publishes it with one atomic store; readers
// never take a lock and only ever see fully committed pictures.
type Buffer struct {
	decoder Decoder
	clock   clock.PassiveClock
	metrics *metrics.Metrics
	rate    *RateCounter
	fanout  *Broadcaster

	slots   [2]atomic.Pointer[Picture]
	visible atomic.Int32

	writeMu sync.Mutex
	lastSeq uint64

	committed atomic.Uint64
	stale     atomic.Uint64
	invalid   atomic.Uint64
}

func NewBuffer(opts BufferOptions) *Buffer {
	if opts.Decoder == nil {
		opts.Decoder = SniffDecoder
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	b := &Buffer{
		decoder: opts.Decoder,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		rate:    NewRateCounter(opts.Clock, opts.RateWindow),
		fanout:  NewBroadcaster(),
	}
	b.visible.Store(-1)
	return b
}

// OnFrame commits f if its sequence is newer than the last committed one
// and its payload decodes. It is the core.FrameHandler of a Source.
func (b *Buffer) OnFrame(f core.Frame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.visible.Load() >= 0 && f.Sequence <= b.lastSeq {
		b.stale.Add(1)
		b.metrics.FrameRejected("stale")
		return errors.Wrapf(core.ErrStaleFrame, "sequence %d is not after %d", f.Sequence, b.lastSeq)
	}

	ct, err := b.decoder(f.Payload)
	if err != nil {
		b.invalid.Add(1)
		b.metrics.FrameRejected("decode")
		return &core.DecodeError{Sequence: f.Sequence, Err: err}
	}

	pic := &Picture{Frame: f, ContentType: ct, CommittedAt: b.clock.Now()}
	next := int32(0)
	if v := b.visible.Load(); v >= 0 {
		next = 1 - v
	}
	b.slots[next].Store(pic)
	b.visible.Store(next)

	b.lastSeq = f.Sequence
	b.committed.Add(1)
	b.rate.Add()
	b.metrics.FrameCommitted()
	b.fanout.Broadcast(*pic)
	return nil
}

// Subscribe streams every committed picture, starting with the visible
// one. A slow reader misses pictures rather than delaying the writer.
func (b *Buffer) Subscribe(bufferSize int) (<-chan Picture, func()) {
	return b.fanout.Subscribe(bufferSize)
}

// CurrentFrame returns the visible picture without blocking.
func (b *Buffer) CurrentFrame() (Picture, bool) {
	v := b.visible.Load()
	if v < 0 {
		return Picture{}, false
	}
	pic := b.slots[v].Load()
	if pic == nil {
		return Picture{}, false
	}
	return *pic, true
}

// Rate is the number of frames committed in the last complete window.
func (b *Buffer) Rate() int {
	r := b.rate.Rate()
	b.metrics.FrameRate(r)
	return r
}

func (b *Buffer) LastSequence() uint64 {
	pic, ok := b.CurrentFrame()
	if !ok {
		return 0
	}
	return pic.Frame.Sequence
}

func (b *Buffer) Stats() BufferStats {
	return BufferStats{
		Committed:    b.committed.Load(),
		Stale:        b.stale.Load(),
		Invalid:      b.invalid.Load(),
		LastSequence: b.LastSequence(),
		Rate:         b.Rate(),
	}
}
