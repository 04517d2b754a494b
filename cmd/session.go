package cmd

import (
	"time"

	"github.com/josefmoeggis/RobotGUI/config"
	"github.com/josefmoeggis/RobotGUI/internal/metrics"
	"github.com/josefmoeggis/RobotGUI/internal/profile"
	"github.com/josefmoeggis/RobotGUI/internal/rover/control"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/protocol"
	"github.com/josefmoeggis/RobotGUI/internal/rover/transport"
	"github.com/josefmoeggis/RobotGUI/internal/rover/video"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// EndpointOptions are the vehicle address flags shared by drive and view.
// Flags win over the selected profile, which wins over configuration.
type EndpointOptions struct {
	Profile   string
	Host      string
	Port      int
	Transport string
	VideoHost string
	VideoPort int
	VideoMode string
}

func (o *EndpointOptions) addControlFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.Host, "host", "H", "", "Vehicle host")
	flags.IntVarP(&o.Port, "port", "p", 0, "Vehicle control port")
	flags.StringVarP(&o.Transport, "transport", "t", "", "Control transport (ws or tcp)")
}

func (o *EndpointOptions) addVideoFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.VideoHost, "video-host", "", "Video host (defaults to the vehicle host)")
	flags.IntVar(&o.VideoPort, "video-port", 0, "Video port")
	flags.StringVar(&o.VideoMode, "video-mode", "", "Frame source (push, pull or mjpeg)")
	flags.StringVar(&o.Profile, "profile", "", "Saved vehicle profile to use (defaults to the current profile)")
}

// sessionEndpoints is the resolved addressing of one session. An empty
// Control host means no vehicle is known yet.
type sessionEndpoints struct {
	Control   core.Endpoint
	Transport string
	Video     core.Endpoint
	VideoMode video.Mode
}

func resolveEndpoints(o EndpointOptions, pm *profile.Manager) (sessionEndpoints, error) {
	res := sessionEndpoints{
		Control:   core.Endpoint{Host: config.GetControlHost(), Port: config.GetControlPort()},
		Transport: config.GetControlTransport(),
		Video:     core.Endpoint{Host: config.GetVideoHost(), Port: config.GetVideoPort()},
	}
	mode := config.GetVideoMode()

	if pm != nil {
		var (
			p   profile.Profile
			err error
		)
		if o.Profile != "" {
			if p, err = pm.Get(o.Profile); err != nil {
				return res, err
			}
		} else if _, p, err = pm.Current(); err != nil {
			p = profile.Profile{}
		}
		if p.ControlHost != "" {
			res.Control = p.Control()
			res.Video = p.Video()
			if p.Transport != "" {
				res.Transport = p.Transport
			}
			if p.VideoMode != "" {
				mode = p.VideoMode
			}
		}
	}

	if o.Host != "" {
		res.Control.Host = o.Host
		if o.VideoHost == "" {
			res.Video.Host = o.Host
		}
	}
	if o.Port != 0 {
		res.Control.Port = o.Port
	}
	if o.Transport != "" {
		res.Transport = o.Transport
	}
	if o.VideoHost != "" {
		res.Video.Host = o.VideoHost
	}
	if o.VideoPort != 0 {
		res.Video.Port = o.VideoPort
	}
	if o.VideoMode != "" {
		mode = o.VideoMode
	}
	if res.Video.Host == "" {
		res.Video.Host = res.Control.Host
	}

	var err error
	if res.VideoMode, err = video.ParseMode(mode); err != nil {
		return res, err
	}
	if res.Control.Host != "" {
		if err := res.Control.Validate(); err != nil {
			return res, errors.Wrap(err, "control endpoint")
		}
	}
	return res, nil
}

// loadProfiles returns the profile manager, or nil when the profile file is
// unreadable; sessions then fall back to flags and configuration.
func loadProfiles() *profile.Manager {
	pm := profile.NewManager()
	if err := pm.Load(); err != nil {
		util.ComponentLogger("profile").WithError(err).Warn("Ignoring profile file")
		return nil
	}
	return pm
}

func newControlChannel(transportName string, m *metrics.Metrics) (*control.Channel, error) {
	dialer, err := transport.NewDialer(transportName, transport.Options{
		Path:       config.GetControlPath(),
		SendBuffer: config.GetSendBuffer(),
	})
	if err != nil {
		return nil, err
	}

	pacing := make(map[core.Kind]time.Duration)
	for _, kind := range core.Kinds() {
		if name, ok := protocol.KindName(kind); ok {
			pacing[kind] = config.GetPacing(name)
		}
	}
	return control.NewChannel(dialer, control.Options{
		ConnectTimeout: config.GetConnectTimeout(),
		AutoRetry:      config.GetAutoRetry(),
		MaxRetries:     config.GetMaxRetries(),
		RetryDelay:     config.GetRetryDelay(),
		Pacing:         pacing,
		Metrics:        m,
	}), nil
}

func newVideoPipeline(mode video.Mode, m *metrics.Metrics) (*video.Buffer, video.Source, error) {
	buf := video.NewBuffer(video.BufferOptions{Metrics: m})
	src, err := video.NewSource(mode, buf.OnFrame, video.Options{
		Path:           config.GetVideoPath(),
		ReconnectDelay: config.GetVideoReconnectDelay(),
		FetchBackoff:   config.GetVideoFetchBackoff(),
		FetchInterval:  config.GetVideoFetchInterval(),
		FetchTimeout:   config.GetVideoFetchTimeout(),
		Metrics:        m,
	})
	if err != nil {
		return nil, nil, err
	}
	return buf, src, nil
}
