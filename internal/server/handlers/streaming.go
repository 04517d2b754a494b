package handlers

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/pkg/errors"
)

const streamBuffer = 2

// StreamingHandlers re-serves committed frames as an MJPEG stream so any
// number of viewers can watch without polling
type StreamingHandlers struct {
	serverService ServerService
}

// NewStreamingHandlers creates a new streaming handlers instance
func NewStreamingHandlers(serverSvc ServerService) *StreamingHandlers {
	return &StreamingHandlers{serverService: serverSvc}
}

// HandleStream writes one multipart/x-mixed-replace part per committed frame
// until the client goes away or the server shuts down
func (h *StreamingHandlers) HandleStream(w http.ResponseWriter, req *http.Request) {
	frames, cancel, ok := h.serverService.SubscribeFrames(streamBuffer)
	if !ok {
		RespondError(w, http.StatusServiceUnavailable, errors.New("video is not configured"))
		return
	}
	defer cancel()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-req.Context().Done():
			return
		case pic, open := <-frames:
			if !open {
				return
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":     {pic.ContentType},
				"Content-Length":   {strconv.Itoa(len(pic.Frame.Payload))},
				"X-Frame-Sequence": {strconv.FormatUint(pic.Frame.Sequence, 10)},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(pic.Frame.Payload); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
