package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/josefmoeggis/RobotGUI/internal/server/handlers"
)

// PagesRouter handles the preview page and frame routes (/, /frame, /stream)
type PagesRouter struct {
	handlers  *handlers.PagesHandlers
	streaming *handlers.StreamingHandlers
}

// RegisterRoutes registers all page routes
func (r *PagesRouter) RegisterRoutes(mux chi.Router, server interface{}) {
	serverService, ok := server.(handlers.ServerService)
	if !ok {
		return
	}
	r.handlers = handlers.NewPagesHandlers(serverService, serverService.GetStaticFS())

	mux.Get("/", r.handlers.HandleRoot)
	mux.Get("/frame", r.handlers.HandleFrame)
	mux.Head("/frame", r.handlers.HandleFrame)

	r.streaming = handlers.NewStreamingHandlers(serverService)
	mux.Get("/stream", r.streaming.HandleStream)
}

// GetPathPrefix returns the path prefix for this router
func (r *PagesRouter) GetPathPrefix() string {
	return "/"
}
