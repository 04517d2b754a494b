package drive

// MagnitudeStep is the change applied by the faster and slower keys.
const MagnitudeStep = 16

// KeyAction is what a keyboard key asks the operator console to do.
type KeyAction int

const (
	KeyNone KeyAction = iota
	KeyForward
	KeyReverse
	KeyNeutral
	KeyFaster
	KeySlower
	KeyPreset
	KeyConnect
	KeyDisconnect
	KeyQuit
)

// Key is a decoded key press. Preset is set for KeyPreset, 0 through 9.
type Key struct {
	Action KeyAction
	Preset int
}

// MapKey decodes one byte read from a raw terminal.
func MapKey(b byte) Key {
	switch b {
	case 'w', 'W':
		return Key{Action: KeyForward}
	case 's', 'S':
		return Key{Action: KeyReverse}
	case ' ':
		return Key{Action: KeyNeutral}
	case '+', '=':
		return Key{Action: KeyFaster}
	case '-', '_':
		return Key{Action: KeySlower}
	case 'c', 'C':
		return Key{Action: KeyConnect}
	case 'x', 'X':
		return Key{Action: KeyDisconnect}
	case 'q', 'Q', 3: // Ctrl-C arrives as ETX in raw mode
		return Key{Action: KeyQuit}
	}
	if b >= '0' && b <= '9' {
		return Key{Action: KeyPreset, Preset: int(b - '0')}
	}
	return Key{Action: KeyNone}
}

// Apply changes the throttle for throttle keys and reports whether k was
// one of them.
func (t *Throttle) Apply(k Key) bool {
	switch k.Action {
	case KeyForward:
		t.SetIntent(IntentForward)
	case KeyReverse:
		t.SetIntent(IntentReverse)
	case KeyNeutral:
		t.SetIntent(IntentNeutral)
	case KeyFaster:
		t.AdjustMagnitude(MagnitudeStep)
	case KeySlower:
		t.AdjustMagnitude(-MagnitudeStep)
	case KeyPreset:
		t.SetMagnitude(k.Preset * t.max / 9)
	default:
		return false
	}
	return true
}
