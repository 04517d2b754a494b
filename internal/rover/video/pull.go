package video

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/pkg/errors"
)

// PullSource fetches one frame per HTTP GET. A fetch starts only after the
// previous frame was handed off, so requests never overlap.
type PullSource struct {
	*base
}

func NewPullSource(handler core.FrameHandler, opts Options) *PullSource {
	return &PullSource{base: newBase(ModePull, handler, opts)}
}

func (s *PullSource) Start(ctx context.Context, ep core.Endpoint) error {
	return s.start(ctx, ep, s.run)
}

func (s *PullSource) run(ctx context.Context, gen uint64, ep core.Endpoint) {
	target := s.httpURL(ep)
	log := s.log.WithField("url", target)
	failures := 0

	for {
		started := s.opts.Clock.Now()

		payload, err := s.fetch(ctx, target)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			s.setState(gen, core.StateDisconnected)
			s.opts.Metrics.VideoReconnect()
			entry := log.WithError(err).WithField("failures", failures)
			if failures == 1 {
				entry.Warn("Frame fetch failed, backing off")
			} else {
				entry.Debug("Frame fetch failed, backing off")
			}
			if !s.sleep(ctx, s.opts.FetchBackoff) {
				return
			}
			continue
		}

		if failures > 0 {
			log.WithField("failures", failures).Info("Frame fetch recovered")
			failures = 0
		}
		s.setState(gen, core.StateConnected)
		if !s.deliver(gen, payload) {
			return
		}

		if !s.sleep(ctx, s.opts.FetchInterval-s.opts.Clock.Since(started)) {
			return
		}
	}
}

// fetch performs one bounded GET. The t parameter defeats caching proxies.
func (s *PullSource) fetch(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frame URL")
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(s.opts.Clock.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build frame request")
	}
	req.Header = s.header()
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch frame")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("fetch frame: unexpected status %s", resp.Status)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxFrameSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read frame body")
	}
	if int64(len(payload)) > s.opts.MaxFrameSize {
		return nil, errors.Errorf("frame exceeds %d bytes", s.opts.MaxFrameSize)
	}
	return payload, nil
}
