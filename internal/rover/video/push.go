package video

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/protocol"
	"github.com/pkg/errors"
)

// PushSource treats every message on a WebSocket as one complete frame and
// reconnects after ReconnectDelay for as long as it runs.
type PushSource struct {
	*base
	dialer websocket.Dialer
}

func NewPushSource(handler core.FrameHandler, opts Options) *PushSource {
	b := newBase(ModePush, handler, opts)
	return &PushSource{
		base: b,
		dialer: websocket.Dialer{
			HandshakeTimeout: b.opts.FetchTimeout,
			ReadBufferSize:   64 * 1024,
		},
	}
}

func (s *PushSource) Start(ctx context.Context, ep core.Endpoint) error {
	return s.start(ctx, ep, s.run)
}

func (s *PushSource) run(ctx context.Context, gen uint64, ep core.Endpoint) {
	url := "ws://" + ep.Address() + s.opts.Path
	log := s.log.WithField("url", url)

	for attempt := 1; ; attempt++ {
		s.setState(gen, core.StateConnecting)
		err := s.session(ctx, gen, ep, url)
		if ctx.Err() != nil {
			return
		}

		s.setState(gen, core.StateDisconnected)
		s.opts.Metrics.VideoReconnect()
		log.WithError(err).WithField("attempt", attempt).Warn("Video stream lost, reconnecting")

		if !s.sleep(ctx, s.opts.ReconnectDelay) {
			return
		}
	}
}

// session reads frames until the socket fails or ctx ends.
func (s *PushSource) session(ctx context.Context, gen uint64, ep core.Endpoint, url string) error {
	conn, _, err := s.dialer.DialContext(ctx, url, s.header())
	if err != nil {
		return &core.ConnectError{Endpoint: ep, Err: err}
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.MaxFrameSize)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.setState(gen, core.StateConnected)
	s.log.WithField("remote", conn.RemoteAddr().String()).Info("Video stream connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		payload, err := protocol.DecodeFramePayload(msgType == websocket.TextMessage, data)
		if err != nil {
			s.opts.Metrics.FrameRejected("payload")
			s.log.WithError(err).Debug("Skipping malformed video message")
			continue
		}
		if !s.deliver(gen, payload) {
			return nil
		}
	}
}
