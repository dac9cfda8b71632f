package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/models"
	"github.com/AnshRaj112/techphono-security/pkg/utils"
)

const (
	GateRequestsPerWindow = 20
	GateWindow            = time.Minute
	MaxGateBodyBytes      = 1 << 20
	maxGateFieldLength    = 10000

	csrfKeyPrefix = "csrf:"
	csrfTokenTTL  = time.Hour
)

var (
	gateMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
	}

	// DefaultGateEndpoints are the endpoint prefixes the app talks to.
	DefaultGateEndpoints = []string{
		"/auth/login",
		"/auth/register",
		"/auth/logout",
		"/auth/forgot-password",
		"/auth/reset-password",
		"/api/repairs",
		"/api/cart",
		"/api/products",
		"/api/feedback",
	}
)

// GateRequest describes an outbound API call before it is sent.
type GateRequest struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	Body     any    `json:"body,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	// Source is the device or IP the request originates from.
	Source string `json:"source,omitempty"`
}

// GateResult says whether the request may proceed and carries the
// sanitized body to send instead of the original.
type GateResult struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors"`
	Sanitized any      `json:"sanitized,omitempty"`
}

// APIGate screens outbound API requests.
type APIGate struct {
	limiter   *RateLimiter
	monitor   *Monitor
	store     *database.Guarded
	endpoints []string
	opts      options
}

// NewAPIGate builds a gate allowing the given endpoint prefixes, or
// DefaultGateEndpoints when none are given.
func NewAPIGate(limiter *RateLimiter, monitor *Monitor, store *database.Guarded, endpoints []string, opts ...Option) *APIGate {
	if len(endpoints) == 0 {
		endpoints = DefaultGateEndpoints
	}
	return &APIGate{
		limiter:   limiter,
		monitor:   monitor,
		store:     store,
		endpoints: endpoints,
		opts:      buildOptions(opts),
	}
}

// Validate checks the rate limit, method, endpoint and body of req, then
// records the outcome as data access or suspicious activity.
func (g *APIGate) Validate(ctx context.Context, req GateRequest) GateResult {
	res := GateResult{Errors: []string{}, Sanitized: req.Body}

	caller := req.UserID
	if caller == "" {
		caller = "anonymous"
	}
	decision, _ := g.limiter.Check(ctx, caller+":"+req.Endpoint, GateRequestsPerWindow, GateWindow)
	if !decision.Allowed {
		secs := int(math.Ceil(decision.Remaining.Seconds()))
		res.Errors = append(res.Errors, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", secs))
	}

	if !gateMethods[strings.ToUpper(req.Method)] {
		res.Errors = append(res.Errors, "Invalid HTTP method")
	}
	if !g.allowedEndpoint(req.Endpoint) {
		res.Errors = append(res.Errors, "Invalid endpoint")
	}

	if req.Body != nil {
		res.Errors = append(res.Errors, g.checkBody(req.Body, &res)...)
	}

	res.Valid = len(res.Errors) == 0
	g.record(ctx, req, res)
	return res
}

func (g *APIGate) allowedEndpoint(endpoint string) bool {
	for _, prefix := range g.endpoints {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

// checkBody scans the raw body and replaces res.Sanitized with the cleaned
// version. Sanitizing strips the characters the patterns look for, so the
// scan has to see the original.
func (g *APIGate) checkBody(body any, res *GateResult) []string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		res.Sanitized = map[string]any{}
		return []string{"Invalid request body format"}
	}
	raw := bytes.TrimSpace(buf.Bytes())
	var errs []string
	if len(raw) > MaxGateBodyBytes {
		errs = append(errs, "Request body too large")
	} else if utils.ContainsSuspiciousPattern(string(raw)) {
		errs = append(errs, "Request contains potentially malicious content")
	}

	sanitized, err := utils.SanitizeValue(body, maxGateFieldLength)
	if err != nil {
		res.Sanitized = map[string]any{}
		return append(errs, err.Error())
	}
	res.Sanitized = sanitized
	return errs
}

func (g *APIGate) record(ctx context.Context, req GateRequest, res GateResult) {
	method := strings.ToUpper(req.Method)
	if res.Valid {
		g.opts.metrics.GateRequestsTotal.WithLabelValues("allowed").Inc()
		g.monitor.MonitorEvent(ctx, models.NewEvent(models.DataAccessDetails{
			Method:   method,
			Endpoint: req.Endpoint,
		}, method+":"+req.Endpoint).WithUser(req.UserID))
		return
	}
	g.opts.metrics.GateRequestsTotal.WithLabelValues("rejected").Inc()
	g.monitor.MonitorEvent(ctx, models.NewEvent(models.SuspiciousActivityDetails{
		Source:   req.Source,
		Method:   method,
		Endpoint: req.Endpoint,
		Errors:   res.Errors,
	}, method+":"+req.Endpoint).WithUser(req.UserID))
}

type csrfToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueCSRFToken creates a token for userID valid for one hour, replacing
// any earlier one.
func (g *APIGate) IssueCSRFToken(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidIdentifier
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("csrf token: %w", err)
	}
	tok := csrfToken{Token: hex.EncodeToString(buf), ExpiresAt: g.opts.clock.Now().Add(csrfTokenTTL)}
	data, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	err = g.store.Update(ctx, csrfKeyPrefix+userID, func(string, bool) (string, bool, error) {
		return string(data), true, nil
	})
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// ValidateCSRFToken reports whether token is the live token for userID.
// Expired tokens are deleted.
func (g *APIGate) ValidateCSRFToken(ctx context.Context, userID, token string) bool {
	if userID == "" || token == "" {
		return false
	}
	cur, ok, err := g.store.Get(ctx, csrfKeyPrefix+userID)
	if err != nil || !ok {
		return false
	}
	var stored csrfToken
	if err := json.Unmarshal([]byte(cur), &stored); err != nil {
		return false
	}
	if !g.opts.clock.Now().Before(stored.ExpiresAt) {
		g.dropExpiredCSRF(ctx, userID)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored.Token), []byte(token)) == 1
}

// dropExpiredCSRF removes the token for userID unless a fresh one was issued
// after it was read.
func (g *APIGate) dropExpiredCSRF(ctx context.Context, userID string) {
	now := g.opts.clock.Now()
	_ = g.store.Update(ctx, csrfKeyPrefix+userID, func(cur string, ok bool) (string, bool, error) {
		if !ok {
			return "", false, nil
		}
		var stored csrfToken
		if err := json.Unmarshal([]byte(cur), &stored); err == nil && now.Before(stored.ExpiresAt) {
			return cur, true, nil
		}
		return "", false, nil
	})
}
