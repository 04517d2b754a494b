package sim

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestFrameGeneratorProducesJPEG(t *testing.T) {
	g := NewFrameGenerator(64, 48)

	first := g.Next()
	second := g.Next()

	img, err := jpeg.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(2), g.Count())
}

func TestControlSocketRecordsCommands(t *testing.T) {
	v := NewVehicle(Options{})
	srv := httptest.NewServer(v.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	require.NoError(t, err)
	defer conn.Close()

	beta, err := protocol.EncodeCommand(core.Command{Kind: core.KindBeta, Value: 12.5, Timestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, beta))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"turbo","value":1,"timestamp":0}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"speed","value":128,"timestamp":0}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	records, err := v.Recorder().Wait(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, core.KindBeta, records[0].Command.Kind)
	assert.Equal(t, 12.5, records[0].Command.Value)
	assert.Equal(t, core.KindSpeed, records[1].Command.Kind)
	assert.Equal(t, records[0].Connection, records[1].Connection)

	last, ok := v.Recorder().Last(core.KindSpeed)
	require.True(t, ok)
	assert.Equal(t, 128.0, last.Value)
}

func TestServeTCP(t *testing.T) {
	v := NewVehicle(Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.ServeTCP(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	w := bufio.NewWriter(conn)
	fmt.Fprintln(w, `{"type":"speed","value":-64,"timestamp":1}`)
	fmt.Fprintln(w)
	fmt.Fprintln(w, `{"type":"beta","value":3,"timestamp":2}`)
	require.NoError(t, w.Flush())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	records, err := v.Recorder().Wait(waitCtx, 2)
	require.NoError(t, err)
	assert.Equal(t, -64.0, records[0].Command.Value)
	assert.Equal(t, core.KindBeta, records[1].Command.Kind)

	conn.Close()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeTCP did not stop")
	}
}

func TestVideoSocketPushesFrames(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		msgType int
	}{
		{name: "binary", query: "", msgType: websocket.BinaryMessage},
		{name: "base64", query: "?encoding=base64", msgType: websocket.TextMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVehicle(Options{FPS: 50})
			srv := httptest.NewServer(v.Handler())
			defer srv.Close()

			conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/video"+tt.query), nil)
			require.NoError(t, err)
			defer conn.Close()

			for i := 0; i < 2; i++ {
				msgType, data, err := conn.ReadMessage()
				require.NoError(t, err)
				assert.Equal(t, tt.msgType, msgType)

				payload, err := protocol.DecodeFramePayload(msgType == websocket.TextMessage, data)
				require.NoError(t, err)
				assert.Equal(t, "image/jpeg", http.DetectContentType(payload))
			}
		})
	}
}

func TestFrameEndpoint(t *testing.T) {
	v := NewVehicle(Options{})
	srv := httptest.NewServer(v.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame?t=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	_, err = jpeg.Decode(resp.Body)
	assert.NoError(t, err)
}

func TestStreamEndpoint(t *testing.T) {
	v := NewVehicle(Options{FPS: 50})
	srv := httptest.NewServer(v.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		_, err = jpeg.Decode(part)
		require.NoError(t, err)
	}
}

func TestDropConnections(t *testing.T) {
	v := NewVehicle(Options{})
	srv := httptest.NewServer(v.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return v.Connections() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, v.DropConnections())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestVideoHandlerPushesOnRoot(t *testing.T) {
	v := NewVehicle(Options{FPS: 50})
	srv := httptest.NewServer(v.VideoHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, "image/jpeg", http.DetectContentType(data))

	resp, err := http.Get(srv.URL + "/frame")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
