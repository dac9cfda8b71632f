package handlers

import (
	"net/http"

	"github.com/AnshRaj112/techphono-security/internal/middleware"
	"github.com/AnshRaj112/techphono-security/internal/services"
)

// CredentialsRequest is the body of sign-in and register.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login signs in and starts the device session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ident, err := h.engine.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "Signed in successfully", map[string]interface{}{
		"user":    ident,
		"session": h.engine.Sessions.SessionInfo(r.Context()),
	})
}

// Logout ends the session and wipes secure storage.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Auth.SignOut(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "Signed out", nil)
}

// Register creates an account without signing in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ident, err := h.engine.Auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Account created. Please sign in.",
		"user":    ident,
	})
}

// SessionInfo describes the current session, or null when there is none.
func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	valid := h.engine.Sessions.IsSessionValid(r.Context())
	writeOK(w, "", map[string]interface{}{
		"valid":   valid,
		"session": h.engine.Sessions.SessionInfo(r.Context()),
	})
}

// RefreshSession extends the live session.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Sessions.RefreshSession(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	info := h.engine.Sessions.SessionInfo(r.Context())
	if info == nil {
		h.writeError(w, r, services.ErrNotSignedIn)
		return
	}
	writeOK(w, "Session refreshed", map[string]interface{}{"session": info})
}

// CSRFToken issues a token for the signed-in user.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFromContext(r.Context())
	if ident == nil {
		h.writeError(w, r, services.ErrNotSignedIn)
		return
	}
	token, err := h.engine.Gate.IssueCSRFToken(r.Context(), ident.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "", map[string]interface{}{"csrf_token": token})
}
