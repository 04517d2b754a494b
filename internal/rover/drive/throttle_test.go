package drive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleSpeed(t *testing.T) {
	th := NewThrottle(255)

	assert.Equal(t, 0.0, th.Speed())
	assert.Equal(t, 128, th.SetMagnitude(128))
	assert.Equal(t, 0.0, th.Speed(), "neutral ignores magnitude")

	th.SetIntent(IntentForward)
	assert.Equal(t, 128.0, th.Speed())
	th.SetIntent(IntentReverse)
	assert.Equal(t, -128.0, th.Speed())
}

func TestThrottleClamps(t *testing.T) {
	th := NewThrottle(255)

	assert.Equal(t, 255, th.SetMagnitude(1000))
	assert.Equal(t, 0, th.SetMagnitude(-5))
	assert.Equal(t, 0, th.AdjustMagnitude(-16))
	th.SetMagnitude(250)
	assert.Equal(t, 255, th.AdjustMagnitude(16))

	assert.Equal(t, DefaultMaxThrottle, NewThrottle(0).Max())
}

func TestParseIntent(t *testing.T) {
	tests := map[string]Intent{
		"forward": IntentForward,
		"Reverse": IntentReverse,
		"neutral": IntentNeutral,
		"":        IntentNeutral,
	}
	for in, want := range tests {
		got, err := ParseIntent(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" {
			assert.Equal(t, want.String(), got.String())
		}
	}

	_, err := ParseIntent("sideways")
	assert.Error(t, err)
}

func TestMapKey(t *testing.T) {
	tests := []struct {
		in   byte
		want Key
	}{
		{'w', Key{Action: KeyForward}},
		{'S', Key{Action: KeyReverse}},
		{' ', Key{Action: KeyNeutral}},
		{'+', Key{Action: KeyFaster}},
		{'-', Key{Action: KeySlower}},
		{'0', Key{Action: KeyPreset, Preset: 0}},
		{'9', Key{Action: KeyPreset, Preset: 9}},
		{'c', Key{Action: KeyConnect}},
		{'x', Key{Action: KeyDisconnect}},
		{'q', Key{Action: KeyQuit}},
		{3, Key{Action: KeyQuit}},
		{'z', Key{Action: KeyNone}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapKey(tt.in), "key %q", tt.in)
	}
}

func TestThrottleApply(t *testing.T) {
	th := NewThrottle(255)

	assert.True(t, th.Apply(MapKey('9')))
	assert.Equal(t, 255, th.Magnitude())
	assert.True(t, th.Apply(MapKey('-')))
	assert.Equal(t, 255-MagnitudeStep, th.Magnitude())
	assert.True(t, th.Apply(MapKey('w')))
	assert.Equal(t, IntentForward, th.Intent())
	assert.True(t, th.Apply(MapKey('0')))
	assert.Equal(t, 0, th.Magnitude())

	assert.False(t, th.Apply(MapKey('c')), "connection keys are not throttle keys")
	assert.False(t, th.Apply(MapKey('q')))
}
