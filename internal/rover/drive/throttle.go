package drive

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// DefaultMaxThrottle is the vehicle's full-scale throttle value.
const DefaultMaxThrottle = 255

// Intent is the operator's chosen direction of travel.
type Intent int

const (
	IntentNeutral Intent = iota
	IntentForward
	IntentReverse
)

// Sign is the multiplier applied to the throttle magnitude.
func (i Intent) Sign() float64 {
	switch i {
	case IntentForward:
		return 1
	case IntentReverse:
		return -1
	default:
		return 0
	}
}

func (i Intent) String() string {
	switch i {
	case IntentForward:
		return "forward"
	case IntentReverse:
		return "reverse"
	default:
		return "neutral"
	}
}

func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "neutral", "stop", "":
		return IntentNeutral, nil
	case "forward", "drive":
		return IntentForward, nil
	case "reverse", "back":
		return IntentReverse, nil
	default:
		return IntentNeutral, errors.Errorf("unknown intent %q", s)
	}
}

// Throttle holds the operator's intent and a magnitude within [0, max].
// It is safe for concurrent use.
type Throttle struct {
	max int

	mu        sync.Mutex
	intent    Intent
	magnitude int
}

func NewThrottle(max int) *Throttle {
	if max <= 0 {
		max = DefaultMaxThrottle
	}
	return &Throttle{max: max}
}

func (t *Throttle) Max() int {
	return t.max
}

func (t *Throttle) SetIntent(i Intent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intent = i
}

func (t *Throttle) Intent() Intent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intent
}

// SetMagnitude clamps m into range and returns the stored value.
func (t *Throttle) SetMagnitude(m int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.magnitude = t.clamp(m)
	return t.magnitude
}

// AdjustMagnitude adds delta, clamped, and returns the new value.
func (t *Throttle) AdjustMagnitude(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.magnitude = t.clamp(t.magnitude + delta)
	return t.magnitude
}

func (t *Throttle) Magnitude() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.magnitude
}

// Speed is sign * magnitude, the value sent as a speed command.
func (t *Throttle) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intent.Sign() * float64(t.magnitude)
}

func (t *Throttle) clamp(m int) int {
	if m < 0 {
		return 0
	}
	if m > t.max {
		return t.max
	}
	return m
}
