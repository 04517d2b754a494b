package video

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records delivered frames and feeds them to a Buffer.
type collector struct {
	buf *Buffer

	mu        sync.Mutex
	sequences []uint64
}

func newCollector() *collector {
	return &collector{buf: NewBuffer(BufferOptions{})}
}

func (c *collector) handle(f core.Frame) error {
	c.mu.Lock()
	c.sequences = append(c.sequences, f.Sequence)
	c.mu.Unlock()
	return c.buf.OnFrame(f)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sequences)
}

func (c *collector) seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.sequences...)
}

func assertIncreasing(t *testing.T, seqs []uint64) {
	t.Helper()
	for i := 1; i < len(seqs); i++ {
		require.Greater(t, seqs[i], seqs[i-1], "sequence went backwards at %d", i)
	}
}

func startVehicle(t *testing.T, opts sim.Options) (*sim.Vehicle, core.Endpoint) {
	t.Helper()
	v := sim.NewVehicle(opts)
	srv := httptest.NewServer(v.VideoHandler())
	t.Cleanup(srv.Close)
	ep, err := core.ParseEndpoint(srv.URL)
	require.NoError(t, err)
	return v, ep
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.ReconnectDelay = 20 * time.Millisecond
	opts.FetchBackoff = 10 * time.Millisecond
	opts.FetchInterval = 5 * time.Millisecond
	opts.FetchTimeout = time.Second
	return opts
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "push", want: ModePush},
		{in: "PULL", want: ModePull},
		{in: " mjpeg ", want: ModeMJPEG},
		{in: "", want: ModePush},
		{in: "webrtc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, "/", ModePush.DefaultPath())
	assert.Equal(t, "/frame", ModePull.DefaultPath())
	assert.Equal(t, "/stream", ModeMJPEG.DefaultPath())
}

func TestNewSource(t *testing.T) {
	handler := func(core.Frame) error { return nil }

	for _, mode := range []Mode{ModePush, ModePull, ModeMJPEG} {
		src, err := NewSource(mode, handler, Options{})
		require.NoError(t, err)
		assert.Equal(t, mode, src.Mode())
		assert.Equal(t, core.StateDisconnected, src.State())
	}

	_, err := NewSource("webrtc", handler, Options{})
	assert.Error(t, err)
	_, err = NewSource(ModePush, nil, Options{})
	assert.Error(t, err)
}

func TestSourcesDeliverFrames(t *testing.T) {
	tests := []struct {
		mode Mode
		path string
	}{
		{mode: ModePush},
		{mode: ModePush, path: "/?encoding=base64"},
		{mode: ModePull},
		{mode: ModeMJPEG},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+tt.path, func(t *testing.T) {
			_, ep := startVehicle(t, sim.Options{FPS: 100})
			col := newCollector()

			opts := fastOptions()
			opts.Path = tt.path
			src, err := NewSource(tt.mode, col.handle, opts)
			require.NoError(t, err)

			require.NoError(t, src.Start(context.Background(), ep))
			defer src.Stop()

			require.Eventually(t, func() bool { return col.buf.Stats().Committed >= 5 }, 3*time.Second, 5*time.Millisecond)
			assert.Equal(t, core.StateConnected, src.State())
			assertIncreasing(t, col.seqs())

			pic, ok := col.buf.CurrentFrame()
			require.True(t, ok)
			assert.Equal(t, "image/jpeg", pic.ContentType)
		})
	}
}

func TestStartTwiceFails(t *testing.T) {
	_, ep := startVehicle(t, sim.Options{})
	src := NewPullSource(func(core.Frame) error { return nil }, fastOptions())

	require.NoError(t, src.Start(context.Background(), ep))
	defer src.Stop()
	assert.ErrorIs(t, src.Start(context.Background(), ep), core.ErrAlreadyOpen)
	assert.ErrorIs(t, NewPullSource(func(core.Frame) error { return nil }, Options{}).Start(context.Background(), core.Endpoint{}), core.ErrInvalidEndpoint)
}

func TestStopDiscardsInFlightFrames(t *testing.T) {
	_, ep := startVehicle(t, sim.Options{FPS: 100})
	col := newCollector()
	src := NewPushSource(col.handle, fastOptions())

	require.NoError(t, src.Start(context.Background(), ep))
	require.Eventually(t, func() bool { return col.count() >= 3 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, src.Stop())
	delivered := col.count()
	assert.Equal(t, core.StateDisconnected, src.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, delivered, col.count(), "frame delivered after Stop")
}

func TestPushReconnectsAndKeepsSequence(t *testing.T) {
	v, ep := startVehicle(t, sim.Options{FPS: 100})
	col := newCollector()
	src := NewPushSource(col.handle, fastOptions())

	require.NoError(t, src.Start(context.Background(), ep))
	defer src.Stop()

	require.Eventually(t, func() bool { return col.count() >= 3 }, 3*time.Second, 5*time.Millisecond)
	before := col.count()
	v.DropConnections()

	require.Eventually(t, func() bool { return col.count() >= before+5 }, 3*time.Second, 5*time.Millisecond)
	assertIncreasing(t, col.seqs())
	assert.Equal(t, uint64(0), col.buf.Stats().Stale, "reconnect restarted the sequence")
}

// flakyFrames alternates a garbage payload with real frames.
type flakyFrames struct {
	gen *sim.FrameGenerator
	n   atomic.Int64
}

func (f *flakyFrames) Next() []byte {
	if f.n.Add(1)%2 == 0 {
		return []byte("corrupted frame")
	}
	return f.gen.Next()
}

func TestDecodeErrorsDoNotStopStream(t *testing.T) {
	_, ep := startVehicle(t, sim.Options{FPS: 100, Frames: &flakyFrames{gen: sim.NewFrameGenerator(32, 32)}})
	col := newCollector()
	src := NewMJPEGSource(col.handle, fastOptions())

	require.NoError(t, src.Start(context.Background(), ep))
	defer src.Stop()

	require.Eventually(t, func() bool {
		stats := col.buf.Stats()
		return stats.Committed >= 3 && stats.Invalid >= 3
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, core.StateConnected, src.State())
}

func TestPullBacksOffAndRecovers(t *testing.T) {
	gen := sim.NewFrameGenerator(32, 32)
	var requests atomic.Int32
	var inFlight atomic.Int32
	var overlapped atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)

		assert.NotEmpty(t, r.URL.Query().Get("t"))
		if requests.Add(1) <= 3 {
			http.Error(w, "camera warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(gen.Next())
	}))
	defer srv.Close()

	ep, err := core.ParseEndpoint(srv.URL)
	require.NoError(t, err)
	col := newCollector()
	src := NewPullSource(col.handle, fastOptions())

	require.NoError(t, src.Start(context.Background(), ep))
	defer src.Stop()

	require.Eventually(t, func() bool { return col.buf.Stats().Committed >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, core.StateConnected, src.State())
	assert.False(t, overlapped.Load(), "fetches overlapped")
	assertIncreasing(t, col.seqs())
}

func TestSourceEndsWithParentContext(t *testing.T) {
	_, ep := startVehicle(t, sim.Options{FPS: 100})
	col := newCollector()
	src := NewPushSource(col.handle, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Start(ctx, ep))
	require.Eventually(t, func() bool { return col.count() >= 1 }, 3*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return src.State() == core.StateDisconnected }, time.Second, 5*time.Millisecond)

	// The source can be started again.
	require.NoError(t, src.Start(context.Background(), ep))
	src.Stop()
}

func TestPushDefaultsToRootPath(t *testing.T) {
	gen := sim.NewFrameGenerator(32, 32)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, gen.Next()); err != nil {
				return
			}
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	ep, err := core.ParseEndpoint(srv.URL)
	require.NoError(t, err)
	col := newCollector()
	src := NewPushSource(col.handle, Options{})

	require.NoError(t, src.Start(context.Background(), ep))
	defer src.Stop()

	require.Eventually(t, func() bool { return col.buf.Stats().Committed == 3 }, 3*time.Second, 5*time.Millisecond)
}

func TestPullStopDiscardsInFlightFetch(t *testing.T) {
	gen := sim.NewFrameGenerator(32, 32)
	release := make(chan struct{})
	arrived := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(gen.Next())
	}))
	defer srv.Close()
	defer close(release)

	ep, err := core.ParseEndpoint(srv.URL)
	require.NoError(t, err)
	col := newCollector()
	opts := fastOptions()
	opts.FetchTimeout = 10 * time.Second
	src := NewPullSource(col.handle, opts)

	require.NoError(t, src.Start(context.Background(), ep))
	select {
	case <-arrived:
	case <-time.After(3 * time.Second):
		t.Fatal("no fetch reached the server")
	}

	started := time.Now()
	require.NoError(t, src.Stop())
	assert.Less(t, time.Since(started), time.Second, "Stop waited for the fetch")
	assert.Equal(t, core.StateDisconnected, src.State())

	release <- struct{}{}
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, col.count(), "frame delivered after Stop")
}
