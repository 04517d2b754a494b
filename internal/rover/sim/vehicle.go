package sim

import (
	"bufio"
	"context"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/josefmoeggis/RobotGUI/internal/rover/protocol"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Options configure a simulated vehicle.
type Options struct {
	// FPS is the push and stream frame rate.
	FPS    int
	Frames FrameProducer
	Clock  clock.WithTicker
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = 25
	}
	if o.Frames == nil {
		o.Frames = NewFrameGenerator(0, 0)
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// Vehicle stands in for the rover: it records control records and serves
// camera frames over every supported video contract.
type Vehicle struct {
	opts     Options
	recorder *Recorder
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu    sync.Mutex
	conns map[string]closer
}

type closer interface {
	Close() error
}

func NewVehicle(opts Options) *Vehicle {
	return &Vehicle{
		opts:     opts.withDefaults(),
		recorder: NewRecorder(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   util.ComponentLogger("sim"),
		conns: make(map[string]closer),
	}
}

func (v *Vehicle) Recorder() *Recorder {
	return v.recorder
}

// Handler serves the control socket on / and the video endpoints, with
// push frames on /video.
func (v *Vehicle) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", v.handleControl)
	r.Get("/video", v.handleVideo)
	r.Get("/frame", v.handleFrame)
	r.Get("/stream", v.handleStream)
	return r
}

// VideoHandler serves a camera on its own port: push frames on /, plus
// /frame and /stream.
func (v *Vehicle) VideoHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", v.handleVideo)
	r.Get("/frame", v.handleFrame)
	r.Get("/stream", v.handleStream)
	return r
}

// DropConnections closes every open socket, as a flaky link would.
func (v *Vehicle) DropConnections() int {
	v.mu.Lock()
	conns := v.conns
	v.conns = make(map[string]closer)
	v.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

// Connections is the number of open sockets.
func (v *Vehicle) Connections() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.conns)
}

func (v *Vehicle) track(c closer) string {
	id := uuid.NewString()
	v.mu.Lock()
	v.conns[id] = c
	v.mu.Unlock()
	return id
}

func (v *Vehicle) untrack(id string) {
	v.mu.Lock()
	delete(v.conns, id)
	v.mu.Unlock()
}

func (v *Vehicle) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.log.WithError(err).Warn("Control upgrade failed")
		return
	}
	id := v.track(conn)
	defer func() {
		v.untrack(id)
		conn.Close()
	}()

	log := v.log.WithFields(logrus.Fields{"conn": id, "remote": r.RemoteAddr})
	log.Info("Control client connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("Control client disconnected")
			} else {
				log.WithError(err).Debug("Control read ended")
			}
			return
		}
		v.record(log, id, data)
	}
}

// ServeTCP accepts newline-delimited control records until ctx is done.
func (v *Vehicle) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept control connection")
		}
		go v.serveTCPConn(conn)
	}
}

func (v *Vehicle) serveTCPConn(conn net.Conn) {
	id := v.track(conn)
	defer func() {
		v.untrack(id)
		conn.Close()
	}()

	log := v.log.WithFields(logrus.Fields{"conn": id, "remote": conn.RemoteAddr().String()})
	log.Info("TCP control client connected")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		v.record(log, id, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Debug("TCP control read ended")
	}
}

func (v *Vehicle) record(log *logrus.Entry, conn string, data []byte) {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		log.WithError(err).Warn("Rejected control record")
		return
	}
	v.recorder.add(Received{Command: cmd, Connection: conn, At: v.opts.Clock.Now()})
	log.WithFields(logrus.Fields{"type": cmd.Kind.String(), "value": cmd.Value}).Debug("Command received")
}

// handleVideo pushes one frame per message. ?encoding=base64 sends text
// messages the way browser-based vehicles do.
func (v *Vehicle) handleVideo(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("encoding") == "base64"

	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.log.WithError(err).Warn("Video upgrade failed")
		return
	}
	id := v.track(conn)
	defer func() {
		v.untrack(id)
		conn.Close()
	}()

	// Drain the read side so close frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := v.opts.Clock.NewTicker(v.frameInterval())
	defer ticker.Stop()

	for {
		payload := v.opts.Frames.Next()
		msgType := websocket.BinaryMessage
		if text {
			msgType = websocket.TextMessage
			payload = protocol.EncodeFramePayload(payload)
		}
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(msgType, payload); err != nil {
			v.log.WithError(err).Debug("Video client gone")
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C():
		}
	}
}

func (v *Vehicle) handleFrame(w http.ResponseWriter, r *http.Request) {
	payload := v.opts.Frames.Next()
	w.Header().Set("Content-Type", http.DetectContentType(payload))
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (v *Vehicle) handleStream(w http.ResponseWriter, r *http.Request) {
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	ticker := v.opts.Clock.NewTicker(v.frameInterval())
	defer ticker.Stop()

	for {
		payload := v.opts.Frames.Next()
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {http.DetectContentType(payload)},
			"Content-Length": {strconv.Itoa(len(payload))},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(payload); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C():
		}
	}
}

func (v *Vehicle) frameInterval() time.Duration {
	return time.Second / time.Duration(v.opts.FPS)
}
