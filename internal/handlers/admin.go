package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/middleware"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (h *Handler) adminLog(r *http.Request, msg string, args ...any) {
	actor := ""
	if ident := middleware.IdentityFromContext(r.Context()); ident != nil {
		actor = ident.ID
	}
	logging.Contextual(r.Context(), h.logger).Info(msg, append([]any{"admin", actor}, args...)...)
}

// Dashboard returns the security summary.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.engine.Monitor.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "", map[string]interface{}{"dashboard": dash})
}

// Events lists recent events, newest first, optionally filtered by type.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultListLimit, maxListLimit)
	typ := models.EventType(r.URL.Query().Get("type"))
	if typ != "" && !typ.Known() {
		writeFail(w, http.StatusBadRequest, "Unknown event type")
		return
	}

	events, err := h.engine.Events.Recent(r.Context(), 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]models.SecurityEvent, 0, limit)
	for _, ev := range events {
		if typ != "" && ev.Type != typ {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	writeOK(w, "", map[string]interface{}{"events": out, "count": len(out)})
}

// Alerts lists stored alerts, newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.engine.Monitor.Alerts(r.Context(), queryLimit(r, defaultListLimit, maxListLimit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "", map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

// Lockouts lists active lockouts.
func (h *Handler) Lockouts(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.Lockouts.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "", map[string]interface{}{"lockouts": records, "count": len(records)})
}

// ClearLockout lifts the lockout on an identifier.
func (h *Handler) ClearLockout(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "identifier"))
	if err != nil || id == "" {
		writeFail(w, http.StatusBadRequest, "Identifier is required")
		return
	}
	if err := h.engine.Lockouts.ClearLockout(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.adminLog(r, "lockout cleared", "identifier", logging.Mask(id))
	writeOK(w, "Lockout cleared", nil)
}

// Blocked lists active blocks.
func (h *Handler) Blocked(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.engine.Blocks.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, "", map[string]interface{}{"blocked": blocks, "count": len(blocks)})
}

// Unblock lifts a block on an identifier.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "identifier"))
	if err != nil || id == "" {
		writeFail(w, http.StatusBadRequest, "Identifier is required")
		return
	}
	if err := h.engine.Blocks.Unblock(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.adminLog(r, "block lifted", "identifier", logging.Mask(id))
	writeOK(w, "Block lifted", nil)
}

// Checks runs the device security checks.
func (h *Handler) Checks(w http.ResponseWriter, r *http.Request) {
	writeOK(w, "", map[string]interface{}{"checks": h.engine.Auth.SecurityChecks(r.Context())})
}

// VerifyLog reports events whose checksum no longer matches.
func (h *Handler) VerifyLog(w http.ResponseWriter, r *http.Request) {
	bad, err := h.engine.Events.Verify(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bad == nil {
		bad = []int{}
	}
	writeOK(w, "", map[string]interface{}{"intact": len(bad) == 0, "tampered": bad})
}

// Cleanup removes expired security state now instead of waiting for the loop.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Monitor.CleanupExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.adminLog(r, "manual cleanup", "lockouts", res.Lockouts, "blocks", res.Blocks, "events", res.Events)
	writeOK(w, "Cleanup complete", map[string]interface{}{"removed": res})
}
