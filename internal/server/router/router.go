package router

import (
	"github.com/go-chi/chi/v5"
)

// Router defines the interface for route registration
type Router interface {
	RegisterRoutes(r chi.Router, server interface{})
	GetPathPrefix() string
}
