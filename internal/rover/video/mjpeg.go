package video

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/pkg/errors"
)

// MJPEGSource reads a multipart/x-mixed-replace stream in which every part
// is one frame. The stream is reopened after ReconnectDelay when it ends.
type MJPEGSource struct {
	*base
}

func NewMJPEGSource(handler core.FrameHandler, opts Options) *MJPEGSource {
	return &MJPEGSource{base: newBase(ModeMJPEG, handler, opts)}
}

func (s *MJPEGSource) Start(ctx context.Context, ep core.Endpoint) error {
	return s.start(ctx, ep, s.run)
}

func (s *MJPEGSource) run(ctx context.Context, gen uint64, ep core.Endpoint) {
	target := s.httpURL(ep)
	log := s.log.WithField("url", target)

	for attempt := 1; ; attempt++ {
		s.setState(gen, core.StateConnecting)
		err := s.session(ctx, gen, ep, target)
		if ctx.Err() != nil {
			return
		}

		s.setState(gen, core.StateDisconnected)
		s.opts.Metrics.VideoReconnect()
		log.WithError(err).WithField("attempt", attempt).Warn("MJPEG stream ended, reconnecting")

		if !s.sleep(ctx, s.opts.ReconnectDelay) {
			return
		}
	}
}

func (s *MJPEGSource) session(ctx context.Context, gen uint64, ep core.Endpoint, target string) error {
	resp, cancel, err := s.open(ctx, target)
	if err != nil {
		return &core.ConnectError{Endpoint: ep, Err: err}
	}
	defer cancel()
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		return errors.Errorf("not an MJPEG stream (content type %q)", resp.Header.Get("Content-Type"))
	}

	s.setState(gen, core.StateConnected)
	log := s.log.WithField("boundary", params["boundary"])
	log.Info("MJPEG stream connected")

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return errors.New("stream closed by vehicle")
		}
		if err != nil {
			return errors.Wrap(err, "read part")
		}

		payload, err := io.ReadAll(io.LimitReader(part, s.opts.MaxFrameSize+1))
		part.Close()
		if err != nil {
			return errors.Wrap(err, "read part body")
		}
		if int64(len(payload)) > s.opts.MaxFrameSize {
			s.opts.Metrics.FrameRejected("oversize")
			log.WithField("bytes", len(payload)).Debug("Skipping oversized part")
			continue
		}

		if !s.deliver(gen, payload) {
			return nil
		}
	}
}

// open issues the stream request. Only the response headers are bounded by
// FetchTimeout; the body is read for as long as the stream lasts.
func (s *MJPEGSource) open(ctx context.Context, target string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrap(err, "build stream request")
	}
	req.Header = s.header()
	req.Header.Set("Accept", "multipart/x-mixed-replace")
	req.Header.Set("Cache-Control", "no-cache")

	type result struct {
		resp *http.Response
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := s.opts.HTTPClient.Do(req)
		results <- result{resp: resp, err: err}
	}()

	timer := s.opts.Clock.NewTimer(s.opts.FetchTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			cancel()
			return nil, nil, errors.Wrap(r.err, "open stream")
		}
		if r.resp.StatusCode != http.StatusOK {
			r.resp.Body.Close()
			cancel()
			return nil, nil, errors.Errorf("open stream: unexpected status %s", r.resp.Status)
		}
		return r.resp, cancel, nil
	case <-timer.C():
		cancel()
		go func() {
			if r := <-results; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return nil, nil, errors.New("open stream: timed out waiting for headers")
	}
}
