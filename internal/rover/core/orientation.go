package core

import "time"

// Subscription identifies a registered orientation callback.
type Subscription uint64

// OrientationSource produces tilt angles in radians at a configurable
// sampling period. Sampling starts with the first subscriber and stops when
// the last one leaves; a later Subscribe restarts it.
type OrientationSource interface {
	Subscribe(callback func(angle float64)) Subscription
	Unsubscribe(Subscription)
	SetSamplingPeriod(period time.Duration)
}
