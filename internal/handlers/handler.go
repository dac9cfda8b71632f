package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/services"
	"github.com/AnshRaj112/techphono-security/pkg/utils"
)

const maxRequestBody = 1 << 20

// Handler serves the local engine API.
type Handler struct {
	engine *services.Engine
	cfg    *config.Config
	logger *slog.Logger
}

func New(engine *services.Engine, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{engine: engine, cfg: cfg, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, message string, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// writeError maps an engine error to a status and a message safe for the UI.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		locked     *services.LockedOutError
		limited    *services.RateLimitedError
		validation *utils.ValidationError
	)
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &locked):
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.Remaining.Seconds())+1))
	case errors.As(err, &limited):
		status = http.StatusTooManyRequests
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrNotSignedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrAccountExists):
		status = http.StatusConflict
	case errors.Is(err, services.ErrIdentityProvider), errors.Is(err, services.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		logging.Contextual(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeFail(w, status, services.UserMessage(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeOK(w, "OK", map[string]interface{}{"run_id": h.engine.Events.RunID()})
}
