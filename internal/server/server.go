package server

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/josefmoeggis/RobotGUI/internal/rover/control"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/drive"
	"github.com/josefmoeggis/RobotGUI/internal/rover/video"
	"github.com/josefmoeggis/RobotGUI/internal/server/handlers"
	"github.com/josefmoeggis/RobotGUI/internal/server/router"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

//go:embed all:static
var staticFiles embed.FS

// Components are the running parts of a drive session the preview server
// exposes. Video and Buffer may be nil when no video is configured.
type Components struct {
	Loop    *drive.Loop
	Channel *control.Channel
	Video   video.Source
	Buffer  *video.Buffer

	// VideoPort is used with the control host on Connect.
	VideoPort int
	// ControlPort fills in a connect request without a port.
	ControlPort int

	Gatherer prometheus.Gatherer
}

// PreviewServer is the local operator page and API for one drive session
type PreviewServer struct {
	port       int
	components Components
	httpServer *http.Server
	listener   net.Listener
	log        *logrus.Entry

	// State
	mu        sync.RWMutex
	running   bool
	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPreviewServer creates a preview server bound to 127.0.0.1:port. Port 0
// picks a free port.
func NewPreviewServer(port int, c Components) *PreviewServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &PreviewServer{
		port:       port,
		components: c,
		log:        util.ComponentLogger("preview"),
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handler builds the routing tree
func (s *PreviewServer) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(s.loggingMiddleware)

	// Register routers in order of specificity (most specific first)
	routers := []router.Router{
		&router.APIRouter{},
		&router.MetricsRouter{},
		&router.PagesRouter{},
	}
	for _, r := range routers {
		r.RegisterRoutes(mux, s)
	}
	return mux
}

// Start binds the listener and serves in the background
func (s *PreviewServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("preview server already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.port)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.startTime = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Open /stream requests end with the server.
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}
	s.running = true

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Preview server stopped")
		}
	}()
	s.log.WithField("url", s.URL()).Info("Preview server listening")
	return nil
}

// URL is the address of the preview page
func (s *PreviewServer) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/", s.port)
}

// Stop stops the server
func (s *PreviewServer) Stop() error {
	s.cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.running = false
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("Preview server shutdown error")
		// Force close if graceful shutdown fails
		return srv.Close()
	}
	return nil
}

// IsRunning returns whether the server is running
func (s *PreviewServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ServerService interface implementations for handlers

// GetPort returns the server port
func (s *PreviewServer) GetPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// GetUptime returns server uptime
func (s *PreviewServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// GetVersion returns version info
func (s *PreviewServer) GetVersion() string {
	return BuildInfo.Version
}

func (s *PreviewServer) GetGatherer() prometheus.Gatherer {
	return s.components.Gatherer
}

// GetStaticFS returns static file system
func (s *PreviewServer) GetStaticFS() fs.FS {
	return staticFiles
}

// Status snapshots control, video and throttle state
func (s *PreviewServer) Status() handlers.Status {
	c := s.components
	st := handlers.Status{
		Drive:   s.throttleStatus(),
		Uptime:  s.GetUptime().Truncate(time.Second).String(),
		Version: s.GetVersion(),
	}

	if c.Channel != nil {
		st.Control = handlers.ControlStatus{
			State:      c.Channel.State().String(),
			RetryCount: c.Channel.RetryCount(),
			Session:    c.Channel.SessionID(),
		}
		if ep := c.Channel.Endpoint(); ep.Host != "" {
			st.Control.Endpoint = ep.String()
		}
		if err := c.Channel.LastError(); err != nil {
			st.Control.LastError = err.Error()
		}
	} else if c.Loop != nil {
		st.Control.State = c.Loop.State().String()
	}

	if c.Video != nil {
		vs := &handlers.VideoStatus{
			Mode:  string(c.Video.Mode()),
			State: c.Video.State().String(),
		}
		if c.Buffer != nil {
			vs.Stats = c.Buffer.Stats()
		}
		st.Video = vs
	}
	return st
}

func (s *PreviewServer) throttleStatus() handlers.ThrottleStatus {
	if s.components.Loop == nil {
		return handlers.ThrottleStatus{Intent: drive.IntentNeutral.String()}
	}
	l := s.components.Loop
	th := l.Throttle()
	return handlers.ThrottleStatus{
		Intent:    th.Intent().String(),
		Magnitude: th.Magnitude(),
		Speed:     th.Speed(),
		LastBeta:  l.LastBeta(),
		Dropped:   l.Dropped(),
	}
}

// Connect (re)opens the control channel at ep and points video at the same
// host.
func (s *PreviewServer) Connect(ep core.Endpoint) error {
	c := s.components
	if c.Loop == nil {
		return errors.New("no control loop configured")
	}
	if ep.Port == 0 {
		ep.Port = c.ControlPort
	}
	if err := ep.Validate(); err != nil {
		return err
	}

	if st := c.Loop.State(); st == core.StateConnecting || st == core.StateConnected {
		c.Loop.Disconnect()
	}
	if err := c.Loop.Connect(ep); err != nil {
		return err
	}

	if c.Video != nil && c.VideoPort > 0 {
		c.Video.Stop()
		videoEp := core.Endpoint{Host: ep.Host, Port: c.VideoPort}
		if err := c.Video.Start(s.ctx, videoEp); err != nil {
			return errors.Wrap(err, "restart video")
		}
	}
	return nil
}

func (s *PreviewServer) Disconnect() {
	if s.components.Loop != nil {
		s.components.Loop.Disconnect()
	}
}

// SetThrottle applies the given intent and magnitude; nil leaves a value
// unchanged.
func (s *PreviewServer) SetThrottle(intent *drive.Intent, magnitude *int) handlers.ThrottleStatus {
	if s.components.Loop != nil {
		th := s.components.Loop.Throttle()
		if magnitude != nil {
			th.SetMagnitude(*magnitude)
		}
		if intent != nil {
			th.SetIntent(*intent)
		}
	}
	return s.throttleStatus()
}

func (s *PreviewServer) CurrentFrame() (video.Picture, bool) {
	if s.components.Buffer == nil {
		return video.Picture{}, false
	}
	return s.components.Buffer.CurrentFrame()
}

func (s *PreviewServer) SubscribeFrames(bufferSize int) (<-chan video.Picture, func(), bool) {
	if s.components.Buffer == nil {
		return nil, nil, false
	}
	frames, cancel := s.components.Buffer.Subscribe(bufferSize)
	return frames, cancel, true
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http.Hijacker interface is not supported")
	}
	return hj.Hijack()
}

// loggingMiddleware logs each request at debug level; the page polls
// /frame continuously.
func (s *PreviewServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   lw.status,
			"bytes":    lw.length,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("Request served")
	})
}
