package handlers

import (
	"net/http"

	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/rover/drive"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// APIHandlers contains handlers for all /api/* routes
type APIHandlers struct {
	serverService ServerService
	log           *logrus.Entry
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{
		serverService: serverSvc,
		log:           util.ComponentLogger("api"),
	}
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rover-preview",
	})
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	RespondJSON(w, http.StatusOK, h.serverService.Status())
}

type connectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// HandleConnect opens the control channel to {host, port}
func (h *APIHandlers) HandleConnect(w http.ResponseWriter, req *http.Request) {
	var body connectRequest
	if err := decodeBody(req, &body); err != nil {
		RespondError(w, http.StatusBadRequest, err)
		return
	}

	ep := core.Endpoint{Host: body.Host, Port: body.Port}
	if err := h.serverService.Connect(ep); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrInvalidEndpoint) {
			status = http.StatusBadRequest
		}
		RespondError(w, status, err)
		return
	}

	h.log.WithField("endpoint", ep.String()).Info("Connect requested")
	RespondJSON(w, http.StatusAccepted, h.serverService.Status().Control)
}

func (h *APIHandlers) HandleDisconnect(w http.ResponseWriter, req *http.Request) {
	h.serverService.Disconnect()
	RespondJSON(w, http.StatusOK, h.serverService.Status().Control)
}

type throttleRequest struct {
	Intent    *string `json:"intent"`
	Magnitude *int    `json:"magnitude"`
}

// HandleThrottle updates intent and/or magnitude; omitted fields are kept
func (h *APIHandlers) HandleThrottle(w http.ResponseWriter, req *http.Request) {
	var body throttleRequest
	if err := decodeBody(req, &body); err != nil {
		RespondError(w, http.StatusBadRequest, err)
		return
	}

	var intent *drive.Intent
	if body.Intent != nil {
		parsed, err := drive.ParseIntent(*body.Intent)
		if err != nil {
			RespondError(w, http.StatusBadRequest, err)
			return
		}
		intent = &parsed
	}

	RespondJSON(w, http.StatusOK, h.serverService.SetThrottle(intent, body.Magnitude))
}

func (h *APIHandlers) HandleServerInfo(w http.ResponseWriter, req *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.serverService.GetVersion(),
		"port":    h.serverService.GetPort(),
		"uptime":  h.serverService.GetUptime().String(),
	})
}
