package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/josefmoeggis/RobotGUI/internal/server/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRouter exposes the prometheus registry
type MetricsRouter struct{}

// RegisterRoutes registers /metrics
func (r *MetricsRouter) RegisterRoutes(mux chi.Router, server interface{}) {
	serverService, ok := server.(handlers.ServerService)
	if !ok || serverService.GetGatherer() == nil {
		return
	}
	mux.Handle(r.GetPathPrefix(), promhttp.HandlerFor(serverService.GetGatherer(), promhttp.HandlerOpts{}))
}

// GetPathPrefix returns the path prefix for this router
func (r *MetricsRouter) GetPathPrefix() string {
	return "/metrics"
}
