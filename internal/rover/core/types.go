package core

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Endpoint addresses a vehicle service. It is never mutated once a
// connection attempt has started.
type Endpoint struct {
	Host string `json:"host" toml:"host"`
	Port int    `json:"port" toml:"port"`
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return &EndpointError{Endpoint: e, Reason: "host is empty"}
	}
	if e.Port < 1 || e.Port > 65535 {
		return &EndpointError{Endpoint: e, Reason: "port out of range"}
	}
	return nil
}

// Address returns host:port, bracketing IPv6 literals.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// ParseEndpoint parses "host:port", also accepting a URL such as
// "http://host:port/path" whose host part is used.
func ParseEndpoint(s string) (Endpoint, error) {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.IndexByte(s, '/'); j >= 0 {
			s = s[:j]
		}
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, &EndpointError{Endpoint: Endpoint{Host: s}, Reason: err.Error()}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, &EndpointError{Endpoint: Endpoint{Host: host}, Reason: "port is not a number"}
	}
	ep := Endpoint{Host: host, Port: port}
	return ep, ep.Validate()
}

// Kind identifies a command stream. Each kind is paced independently.
type Kind int

const (
	// KindBeta carries the steering tilt in degrees.
	KindBeta Kind = iota + 1
	// KindSpeed carries the signed throttle value.
	KindSpeed
)

// Kinds lists every command kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindBeta, KindSpeed}
}

func (k Kind) String() string {
	switch k {
	case KindBeta:
		return "beta"
	case KindSpeed:
		return "speed"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Command is a single steering or throttle value. Only the newest value
// per kind is ever worth sending.
type Command struct {
	Kind      Kind
	Value     float64
	Timestamp time.Time
}

// Frame is one complete, still encoded image received from the vehicle.
// Frames are immutable once constructed; Payload must not be modified.
type Frame struct {
	Payload     []byte
	Sequence    uint64
	ArrivalTime time.Time
}

// FrameHandler consumes frames in sequence order. A returned error affects
// only that frame.
type FrameHandler func(Frame) error

// State is the connection state shown to the operator.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
