package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/josefmoeggis/RobotGUI/internal/server/handlers"
)

// APIRouter handles all /api/* routes
type APIRouter struct {
	handlers *handlers.APIHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux chi.Router, server interface{}) {
	serverService, ok := server.(handlers.ServerService)
	if !ok {
		return
	}
	r.handlers = handlers.NewAPIHandlers(serverService)

	mux.Route(r.GetPathPrefix(), func(api chi.Router) {
		// Health and status endpoints
		api.Get("/health", r.handlers.HandleHealth)
		api.Get("/status", r.handlers.HandleStatus)
		api.Get("/server/info", r.handlers.HandleServerInfo)

		// Vehicle control endpoints
		api.Post("/connect", r.handlers.HandleConnect)
		api.Post("/disconnect", r.handlers.HandleDisconnect)
		api.Post("/throttle", r.handlers.HandleThrottle)
	})
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}
