package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// Session is the part of the controller the status server exposes.
// *liveagent.Controller implements it.
type Session interface {
	Snapshot() liveagent.Snapshot
	Suspend()
	Resume()
	AgentOnline(ctx context.Context) (bool, error)
	SetTyping(ctx context.Context, typing bool) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	session Session
	backend liveagent.Backend
	version string
}

// NewHandler creates a new Handler for the given session and record backend.
func NewHandler(session Session, backend liveagent.Backend, version string) *Handler {
	return &Handler{session: session, backend: backend, version: version}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
