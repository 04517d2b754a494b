package handlers

import (
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"
)

// PagesHandlers contains handlers for the preview page and the current frame
type PagesHandlers struct {
	serverService ServerService
	staticFS      fs.FS // Static files filesystem
}

// NewPagesHandlers creates a new pages handlers instance
func NewPagesHandlers(serverSvc ServerService, staticFS fs.FS) *PagesHandlers {
	return &PagesHandlers{
		serverService: serverSvc,
		staticFS:      staticFS,
	}
}

// HandleRoot serves the preview page, which polls /frame
func (h *PagesHandlers) HandleRoot(w http.ResponseWriter, req *http.Request) {
	if h.staticFS != nil {
		file, err := h.staticFS.Open("static/index.html")
		if err == nil {
			defer file.Close()
			if rs, ok := file.(io.ReadSeeker); ok {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				http.ServeContent(w, req, "index.html", time.Time{}, rs)
				return
			}
		}
	}

	http.Error(w, "Preview page not available", http.StatusNotFound)
}

// HandleFrame serves the committed frame, or 204 when none exists yet
func (h *PagesHandlers) HandleFrame(w http.ResponseWriter, req *http.Request) {
	pic, ok := h.serverService.CurrentFrame()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", pic.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Sequence", strconv.FormatUint(pic.Frame.Sequence, 10))
	w.Header().Set("Content-Length", strconv.Itoa(len(pic.Frame.Payload)))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		w.Write(pic.Frame.Payload)
	}
}
