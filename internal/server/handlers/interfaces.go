package handlers

import (
	"io/fs"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/drive"
	"github.com/josefmoeggis/RobotGUI/internal/rover/video"
	"github.com/prometheus/client_golang/prometheus"
)

// ServerService defines the interface for server operations that handlers need
type ServerService interface {
	// Status and info
	GetPort() int
	GetUptime() time.Duration
	GetVersion() string
	Status() Status

	// Vehicle control
	Connect(ep core.Endpoint) error
	Disconnect()
	SetThrottle(intent *drive.Intent, magnitude *int) ThrottleStatus

	// Video
	CurrentFrame() (video.Picture, bool)
	SubscribeFrames(bufferSize int) (<-chan video.Picture, func(), bool)

	// Metrics
	GetGatherer() prometheus.Gatherer

	// Static file serving
	GetStaticFS() fs.FS
}

// Status is the operator-facing snapshot served by /api/status
type Status struct {
	Control ControlStatus  `json:"control"`
	Video   *VideoStatus   `json:"video,omitempty"`
	Drive   ThrottleStatus `json:"drive"`
	Uptime  string         `json:"uptime"`
	Version string         `json:"version"`
}

type ControlStatus struct {
	State      string `json:"state"`
	Endpoint   string `json:"endpoint,omitempty"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	Session    string `json:"session,omitempty"`
}

type VideoStatus struct {
	Mode  string            `json:"mode"`
	State string            `json:"state"`
	Stats video.BufferStats `json:"stats"`
}

type ThrottleStatus struct {
	Intent    string  `json:"intent"`
	Magnitude int     `json:"magnitude"`
	Speed     float64 `json:"speed"`
	LastBeta  float64 `json:"last_beta"`
	Dropped   uint64  `json:"dropped"`
}
