package handlers

import (
	"net/http"

	"github.com/AnshRaj112/techphono-security/internal/services"
	"github.com/AnshRaj112/techphono-security/pkg/clientip"
)

const headerCSRFToken = "X-CSRF-Token"

// ValidateRequest screens an outbound API request for the app.
func (h *Handler) ValidateRequest(w http.ResponseWriter, r *http.Request) {
	var req services.GateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = clientip.RealClientIP(r)
	}

	if req.UserID != "" && req.Method != "GET" {
		if !h.engine.Gate.ValidateCSRFToken(r.Context(), req.UserID, r.Header.Get(headerCSRFToken)) {
			writeJSON(w, http.StatusForbidden, map[string]interface{}{
				"success": false,
				"message": "Invalid or expired CSRF token",
			})
			return
		}
	}

	res := h.engine.Gate.Validate(r.Context(), req)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   res.Valid,
		"valid":     res.Valid,
		"errors":    res.Errors,
		"sanitized": res.Sanitized,
	})
}

// LifecycleRequest reports a UI state change.
type LifecycleRequest struct {
	State services.AppState `json:"state"`
}

// Lifecycle records an app state change and runs its side effects.
func (h *Handler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	var req LifecycleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := h.engine.Lifecycle.Transition(r.Context(), req.State)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Unknown app state")
		return
	}
	writeOK(w, "", map[string]interface{}{"transition": report})
}
