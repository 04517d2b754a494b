package protocol

import (
	"encoding/json"
	"math"
	"time"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/pkg/errors"
	"github.com/vishalkuo/bimap"
)

var kindNames = func() *bimap.BiMap[core.Kind, string] {
	m := bimap.NewBiMap[core.Kind, string]()
	m.Insert(core.KindBeta, "beta")
	m.Insert(core.KindSpeed, "speed")
	return m
}()

// Record is the self-describing wire form of a command. The timestamp lets
// the vehicle order records independently of arrival order.
type Record struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// KindName returns the wire name of a command kind.
func KindName(kind core.Kind) (string, bool) {
	return kindNames.Get(kind)
}

// ParseKind maps a wire name back to its command kind.
func ParseKind(name string) (core.Kind, error) {
	kind, ok := kindNames.GetInverse(name)
	if !ok {
		return 0, errors.Errorf("unknown command type %q", name)
	}
	return kind, nil
}

// EncodeCommand renders one command record without trailing delimiter.
func EncodeCommand(cmd core.Command) ([]byte, error) {
	name, ok := KindName(cmd.Kind)
	if !ok {
		return nil, errors.Errorf("unknown command kind %d", int(cmd.Kind))
	}
	if math.IsNaN(cmd.Value) || math.IsInf(cmd.Value, 0) {
		return nil, errors.Errorf("%s value is not finite", name)
	}
	data, err := json.Marshal(Record{
		Type:      name,
		Value:     cmd.Value,
		Timestamp: Millis(cmd.Timestamp),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal command record")
	}
	return data, nil
}

// DecodeCommand parses one command record.
func DecodeCommand(data []byte) (core.Command, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.Command{}, errors.Wrap(err, "malformed command record")
	}
	kind, err := ParseKind(rec.Type)
	if err != nil {
		return core.Command{}, err
	}
	return core.Command{
		Kind:      kind,
		Value:     rec.Value,
		Timestamp: time.UnixMilli(rec.Timestamp),
	}, nil
}

// Millis converts a timestamp to Unix milliseconds; the zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// RadiansToDegrees converts a sensor angle to the unit the vehicle expects.
func RadiansToDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
