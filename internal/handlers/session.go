package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// GetSession returns the controller snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.session.Snapshot())
}

// SuspendSession pauses polling of the active session.
func (h *Handler) SuspendSession(w http.ResponseWriter, r *http.Request) {
	if h.session.Snapshot().State != liveagent.StateActive {
		h.Error(w, http.StatusConflict, "no active session")
		return
	}
	h.session.Suspend()
	h.JSON(w, http.StatusOK, h.session.Snapshot())
}

// ResumeSession restarts polling paused by SuspendSession.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	if h.session.Snapshot().State != liveagent.StateActive {
		h.Error(w, http.StatusConflict, "no active session")
		return
	}
	h.session.Resume()
	h.JSON(w, http.StatusOK, h.session.Snapshot())
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

// SetTyping relays the visitor's typing indicator from the embedding UI.
func (h *Handler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.session.SetTyping(r.Context(), req.Typing)
	switch {
	case errors.Is(err, liveagent.ErrInactiveSession):
		h.Error(w, http.StatusConflict, "no active session")
	case err != nil:
		h.Error(w, http.StatusBadGateway, "chat server unavailable")
	default:
		h.JSON(w, http.StatusOK, map[string]bool{"typing": req.Typing})
	}
}
