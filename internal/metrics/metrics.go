package metrics

import (
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rover"

// Metrics holds the collectors shared by the control channel and the video
// pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	commandsSent     *prometheus.CounterVec
	commandsDropped  *prometheus.CounterVec
	controlState     *prometheus.GaugeVec
	connectAttempts  *prometheus.CounterVec
	framesCommitted  prometheus.Counter
	framesRejected   *prometheus.CounterVec
	frameRate        prometheus.Gauge
	videoReconnects  prometheus.Counter
	orientationTicks prometheus.Counter
}

// New registers the rover collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Command records handed to the control transport",
		}, []string{"kind"}),

		commandsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands that were not transmitted",
		}, []string{"kind", "reason"}),

		controlState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_state",
			Help:      "1 for the current control channel state, 0 otherwise",
		}, []string{"state"}),

		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Control channel connection attempts by result",
		}, []string{"result"}),

		framesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_committed_total",
			Help:      "Frames made visible by the frame buffer",
		}),

		framesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Frames discarded by the frame buffer",
		}, []string{"reason"}),

		frameRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_rate",
			Help:      "Frames committed during the last complete one second window",
		}),

		videoReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_reconnects_total",
			Help:      "Frame source reconnects and fetch retries",
		}),

		orientationTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orientation_samples_total",
			Help:      "Orientation samples mapped to steering commands",
		}),
	}
}

func (m *Metrics) CommandSent(kind core.Kind) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) CommandDropped(kind core.Kind, reason string) {
	if m == nil {
		return
	}
	m.commandsDropped.WithLabelValues(kind.String(), reason).Inc()
}

// ControlState marks state as the only active control state.
func (m *Metrics) ControlState(state core.State) {
	if m == nil {
		return
	}
	for _, s := range []core.State{core.StateDisconnected, core.StateConnecting, core.StateConnected, core.StateFailed} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.controlState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) FrameCommitted() {
	if m == nil {
		return
	}
	m.framesCommitted.Inc()
}

func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameRate(fps int) {
	if m == nil {
		return
	}
	m.frameRate.Set(float64(fps))
}

func (m *Metrics) VideoReconnect() {
	if m == nil {
		return
	}
	m.videoReconnects.Inc()
}

func (m *Metrics) OrientationSample() {
	if m == nil {
		return
	}
	m.orientationTicks.Inc()
}
