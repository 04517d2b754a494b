package protocol

import (
	"bytes"
	"encoding/base64"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/pkg/errors"
)

var dataURLMarker = []byte(";base64,")

// DecodeFramePayload turns one inbound video message into an image payload.
// Binary messages are the payload. Text messages carry base64, optionally
// as a data URL such as "data:image/jpeg;base64,...".
func DecodeFramePayload(text bool, data []byte) ([]byte, error) {
	if !text {
		if len(data) == 0 {
			return nil, core.ErrEmptyFrame
		}
		return data, nil
	}

	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("data:")) {
		idx := bytes.Index(data, dataURLMarker)
		if idx < 0 {
			return nil, errors.New("data URL without base64 payload")
		}
		data = data[idx+len(dataURLMarker):]
	}
	if len(data) == 0 {
		return nil, core.ErrEmptyFrame
	}

	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 frame")
	}
	if n == 0 {
		return nil, core.ErrEmptyFrame
	}
	return out[:n], nil
}

// EncodeFramePayload is the text form accepted by DecodeFramePayload.
func EncodeFramePayload(payload []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
	base64.StdEncoding.Encode(out, payload)
	return out
}
