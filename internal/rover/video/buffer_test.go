package video

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0}

// stamped builds a payload whose every byte after the magic encodes seq.
func stamped(seq uint64, size int) []byte {
	payload := append([]byte(nil), jpegMagic...)
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], seq)
	for len(payload) < size {
		payload = append(payload, word[:]...)
	}
	return payload
}

func payloadSequence(t *testing.T, payload []byte) uint64 {
	t.Helper()
	body := payload[len(jpegMagic):]
	first := binary.BigEndian.Uint64(body[:8])
	for i := 8; i+8 <= len(body); i += 8 {
		if !assert.Equal(t, first, binary.BigEndian.Uint64(body[i:i+8]), "payload mixes two frames") {
			break
		}
	}
	return first
}

func frame(seq uint64) core.Frame {
	return core.Frame{Payload: stamped(seq, 64), Sequence: seq, ArrivalTime: time.Now()}
}

func TestBufferEmpty(t *testing.T) {
	b := NewBuffer(BufferOptions{})

	_, ok := b.CurrentFrame()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Rate())
	assert.Equal(t, uint64(0), b.LastSequence())
}

func TestBufferRejectsStaleFrames(t *testing.T) {
	b := NewBuffer(BufferOptions{})

	var committed []uint64
	for _, seq := range []uint64{1, 2, 2, 4, 3} {
		err := b.OnFrame(frame(seq))
		if err == nil {
			pic, ok := b.CurrentFrame()
			require.True(t, ok)
			committed = append(committed, pic.Frame.Sequence)
			continue
		}
		assert.ErrorIs(t, err, core.ErrStaleFrame)
	}

	assert.Equal(t, []uint64{1, 2, 4}, committed)
	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.Committed)
	assert.Equal(t, uint64(2), stats.Stale)
	assert.Equal(t, uint64(4), stats.LastSequence)
}

func TestBufferDecodeErrorKeepsPreviousFrame(t *testing.T) {
	b := NewBuffer(BufferOptions{})
	require.NoError(t, b.OnFrame(frame(1)))

	err := b.OnFrame(core.Frame{Payload: []byte("<html>not a picture</html>"), Sequence: 2})
	var decodeErr *core.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, uint64(2), decodeErr.Sequence)

	err = b.OnFrame(core.Frame{Sequence: 3})
	assert.ErrorIs(t, err, core.ErrEmptyFrame)

	pic, ok := b.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, uint64(1), pic.Frame.Sequence)
	assert.Equal(t, "image/jpeg", pic.ContentType)

	// A rejected frame does not consume its sequence number.
	require.NoError(t, b.OnFrame(frame(2)))
	assert.Equal(t, uint64(2), b.LastSequence())
	assert.Equal(t, uint64(2), b.Stats().Invalid)
}

func TestBufferCustomDecoder(t *testing.T) {
	b := NewBuffer(BufferOptions{Decoder: func(p []byte) (string, error) {
		return "application/x-raw", nil
	}})

	require.NoError(t, b.OnFrame(core.Frame{Payload: []byte{1, 2, 3}, Sequence: 1}))
	pic, ok := b.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, "application/x-raw", pic.ContentType)
}

func TestBufferNoTearing(t *testing.T) {
	b := NewBuffer(BufferOptions{})
	const frames = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				pic, ok := b.CurrentFrame()
				if !ok {
					continue
				}
				seq := payloadSequence(t, pic.Frame.Payload)
				assert.Equal(t, pic.Frame.Sequence, seq)
				assert.GreaterOrEqual(t, seq, last, "visible frame went backwards")
				last = seq
			}
		}()
	}

	// Two writers race with interleaved sequences; late ones are rejected.
	var writers sync.WaitGroup
	for w := 0; w < 2; w++ {
		writers.Add(1)
		go func(offset uint64) {
			defer writers.Done()
			for i := uint64(1); i <= frames; i++ {
				b.OnFrame(core.Frame{Payload: stamped(2*i+offset, 512), Sequence: 2*i + offset})
			}
		}(uint64(w))
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, uint64(2*frames), stats.Committed+stats.Stale)
	assert.Equal(t, uint64(2*frames+1), stats.LastSequence)
}

func TestBufferRate(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBuffer(BufferOptions{Clock: fc})

	for i := 1; i <= 25; i++ {
		require.NoError(t, b.OnFrame(frame(uint64(i))))
		fc.Step(39 * time.Millisecond)
	}
	assert.Equal(t, 0, b.Rate(), "first window still open")

	fc.SetTime(fc.Now().Truncate(time.Second).Add(time.Second))
	assert.Equal(t, 25, b.Rate())

	fc.Step(time.Second)
	assert.Equal(t, 0, b.Rate(), "window without frames")
}

func TestRateCounterSkipsIdleWindows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := testingclock.NewFakeClock(start)
	r := NewRateCounter(fc, time.Second)

	for i := 0; i < 10; i++ {
		r.Add()
	}
	fc.Step(1500 * time.Millisecond)
	for i := 0; i < 3; i++ {
		r.Add()
	}
	assert.Equal(t, 10, r.Rate())

	fc.Step(time.Second)
	assert.Equal(t, 3, r.Rate())

	fc.Step(5 * time.Second)
	assert.Equal(t, 0, r.Rate())
}
