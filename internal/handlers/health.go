package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	State     string           `json:"state"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports whether the record backend and the chat server are reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Check record backend
	if h.backend != nil {
		start := time.Now()
		if err := h.backend.Ping(ctx); err != nil {
			checks["store"] = Check{Status: "fail", Message: err.Error()}
			allHealthy = false
		} else {
			checks["store"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["store"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Check chat server
	start := time.Now()
	if online, err := h.session.AgentOnline(ctx); err != nil {
		checks["chat_server"] = Check{Status: "fail", Message: "unreachable"}
		allHealthy = false
	} else {
		msg := "no agent online"
		if online {
			msg = "agent online"
		}
		checks["chat_server"] = Check{Status: "pass", Latency: time.Since(start).String(), Message: msg}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   h.version,
		State:     string(h.session.Snapshot().State),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
