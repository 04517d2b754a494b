package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/rover/control"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/drive"
	"github.com/josefmoeggis/RobotGUI/internal/rover/sim"
	"github.com/josefmoeggis/RobotGUI/internal/rover/transport"
	"github.com/josefmoeggis/RobotGUI/internal/rover/video"
	"github.com/josefmoeggis/RobotGUI/internal/server/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server  *PreviewServer
	http    *httptest.Server
	vehicle *sim.Vehicle
	ep      core.Endpoint
	comp    Components
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	vehicle := sim.NewVehicle(sim.Options{FPS: 50})
	vsrv := httptest.NewServer(vehicle.Handler())
	t.Cleanup(vsrv.Close)
	ep, err := core.ParseEndpoint(vsrv.URL)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	dialer, err := transport.NewDialer("ws", transport.Options{})
	require.NoError(t, err)
	copts := control.DefaultOptions()
	copts.Metrics = m
	ch := control.NewChannel(dialer, copts)

	orient := drive.NewSimulatedOrientation(nil, 0.2, time.Second)
	loop := drive.NewLoop(ch, orient, drive.LoopOptions{Tick: 10 * time.Millisecond, Metrics: m})

	buf := video.NewBuffer(video.BufferOptions{Metrics: m})
	vopts := video.DefaultOptions()
	vopts.FetchInterval = 5 * time.Millisecond
	vopts.Metrics = m
	src, err := video.NewSource(video.ModePull, buf.OnFrame, vopts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	comp := Components{
		Loop:        loop,
		Channel:     ch,
		Video:       src,
		Buffer:      buf,
		VideoPort:   ep.Port,
		ControlPort: ep.Port,
		Gatherer:    reg,
	}
	s := NewPreviewServer(0, comp)
	hs := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		hs.Close()
		s.Stop()
		src.Stop()
		ch.Close()
		cancel()
		<-done
	})
	return &fixture{server: s, http: hs, vehicle: vehicle, ep: ep, comp: comp}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStatusBeforeConnect(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/frame")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[handlers.Status](t, resp)
	assert.Equal(t, "disconnected", st.Control.State)
	assert.Empty(t, st.Control.Endpoint)
	require.NotNil(t, st.Video)
	assert.Equal(t, "pull", st.Video.Mode)
	assert.Equal(t, "neutral", st.Drive.Intent)

	resp = f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnectDriveAndView(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/connect", `{"host":"`+f.ep.Host+`"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := f.comp.Channel.WaitForState(ctx, core.StateConnected)
	require.NoError(t, err)
	assert.Equal(t, f.ep, f.comp.Channel.Endpoint(), "missing port falls back to the control port")

	resp = f.post(t, "/api/throttle", `{"intent":"forward","magnitude":100}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	th := decode[handlers.ThrottleStatus](t, resp)
	assert.Equal(t, "forward", th.Intent)
	assert.Equal(t, 100, th.Magnitude)
	assert.Equal(t, 100.0, th.Speed)

	require.Eventually(t, func() bool {
		cmd, ok := f.vehicle.Recorder().Last(core.KindSpeed)
		return ok && cmd.Value == 100
	}, 3*time.Second, 10*time.Millisecond)

	// Magnitude alone keeps the intent.
	resp = f.post(t, "/api/throttle", `{"magnitude":40}`)
	th = decode[handlers.ThrottleStatus](t, resp)
	assert.Equal(t, "forward", th.Intent)
	assert.Equal(t, 40.0, th.Speed)

	require.Eventually(t, func() bool {
		r, err := http.Get(f.http.URL + "/frame")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		return r.StatusCode == http.StatusOK &&
			r.Header.Get("Content-Type") == "image/jpeg" &&
			r.Header.Get("X-Frame-Sequence") != "" &&
			len(body) > 0
	}, 3*time.Second, 20*time.Millisecond)

	st := decode[handlers.Status](t, f.get(t, "/api/status"))
	assert.Equal(t, "connected", st.Control.State)
	assert.Equal(t, f.ep.String(), st.Control.Endpoint)
	assert.NotEmpty(t, st.Control.Session)
	assert.Greater(t, st.Video.Stats.Committed, uint64(0))

	resp = f.post(t, "/api/disconnect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ctl := decode[handlers.ControlStatus](t, resp)
	assert.Equal(t, "disconnected", ctl.State)
}

func TestReconnectSwitchesEndpoint(t *testing.T) {
	f := newFixture(t)
	other := sim.NewVehicle(sim.Options{})
	osrv := httptest.NewServer(other.Handler())
	defer osrv.Close()
	otherEp, err := core.ParseEndpoint(osrv.URL)
	require.NoError(t, err)

	require.NoError(t, f.server.Connect(f.ep))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = f.comp.Channel.WaitForState(ctx, core.StateConnected)
	require.NoError(t, err)

	require.NoError(t, f.server.Connect(otherEp))
	_, err = f.comp.Channel.WaitForState(ctx, core.StateConnected)
	require.NoError(t, err)
	assert.Equal(t, otherEp, f.comp.Channel.Endpoint())
}

func TestAPIRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"empty host", "/api/connect", `{"host":"","port":8765}`},
		{"port out of range", "/api/connect", `{"host":"rover","port":70000}`},
		{"unknown field", "/api/connect", `{"address":"rover"}`},
		{"malformed json", "/api/connect", `{`},
		{"unknown intent", "/api/throttle", `{"intent":"sideways"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, core.StateDisconnected, f.comp.Channel.State())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rover_control_state{state="disconnected"} 1`)
}

func TestPreviewPageAndLifecycle(t *testing.T) {
	s := NewPreviewServer(0, Components{})
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.NotZero(t, s.GetPort())
	assert.Error(t, s.Start())

	resp, err := http.Get(s.URL())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `fetch("/frame"`)

	// No components: status still answers, frame is empty, connect fails.
	resp, err = http.Get(s.URL() + "frame")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Error(t, s.Connect(core.Endpoint{Host: "rover", Port: 1}))

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestStreamRelaysCommittedFrames(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/connect", `{"host":"`+f.ep.Host+`"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	stream, err := http.Get(f.http.URL + "/stream")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	mediaType, params, err := mime.ParseMediaType(stream.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	mr := multipart.NewReader(stream.Body, params["boundary"])
	var last uint64
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		seq, err := strconv.ParseUint(part.Header.Get("X-Frame-Sequence"), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
		body, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.NotEmpty(t, body)
	}
}

func TestStreamWithoutVideo(t *testing.T) {
	s := NewPreviewServer(0, Components{})
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStopEndsOpenStreams(t *testing.T) {
	buf := video.NewBuffer(video.BufferOptions{})
	s := NewPreviewServer(0, Components{Buffer: buf})
	require.NoError(t, s.Start())

	resp, err := http.Get(s.URL() + "stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()

	require.NoError(t, s.Stop())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream still open after Stop")
	}
}
