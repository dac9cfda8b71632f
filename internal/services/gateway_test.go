package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/techphono-security/internal/models"
)

func TestGateAllowsCleanRequest(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	res := e.Gate.Validate(ctx, GateRequest{
		Method:   "post",
		Endpoint: "/api/repairs/create",
		UserID:   "u1",
		Body: map[string]any{
			"name":  "  Priya  ",
			"issue": "Screen cracked; won't turn on",
			"count": float64(2),
		},
	})
	assert.True(t, res.Valid, res.Errors)
	body, ok := res.Sanitized.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Priya", body["name"])
	assert.Equal(t, "Screen cracked wont turn on", body["issue"])
	assert.Equal(t, float64(2), body["count"])

	n, err := e.Events.DataAccess(ctx, "u1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGateRejects(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	cases := []struct {
		name string
		req  GateRequest
		want string
	}{
		{"method", GateRequest{Method: "TRACE", Endpoint: "/api/cart"}, "Invalid HTTP method"},
		{"endpoint", GateRequest{Method: "GET", Endpoint: "/internal/debug"}, "Invalid endpoint"},
		{"script", GateRequest{Method: "POST", Endpoint: "/api/feedback", Body: map[string]any{
			"comment": "<script>alert(1)</script>",
		}}, "Request contains potentially malicious content"},
		{"sql", GateRequest{Method: "POST", Endpoint: "/api/feedback", Body: []any{"1; DROP TABLE users"}},
			"Request contains potentially malicious content"},
		{"size", GateRequest{Method: "POST", Endpoint: "/api/feedback", Body: strings.Repeat("a", MaxGateBodyBytes)},
			"Request body too large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := e.Gate.Validate(ctx, tc.req)
			assert.False(t, res.Valid)
			assert.Contains(t, res.Errors, tc.want)
		})
	}

	n, err := e.Events.Count(ctx, EventFilter{Types: []models.EventType{models.EventSuspiciousActivity}})
	require.NoError(t, err)
	assert.Equal(t, len(cases), n)
}

func TestGateRateLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	req := GateRequest{Method: "GET", Endpoint: "/api/products"}

	for i := 0; i < GateRequestsPerWindow; i++ {
		require.True(t, e.Gate.Validate(ctx, req).Valid, "request %d", i+1)
	}
	res := e.Gate.Validate(ctx, req)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Rate limit exceeded. Try again in 60 seconds"}, res.Errors)

	other := e.Gate.Validate(ctx, GateRequest{Method: "GET", Endpoint: "/api/products", UserID: "u2"})
	assert.True(t, other.Valid, "limits are per caller")

	e.clock.Advance(GateWindow + time.Second)
	assert.True(t, e.Gate.Validate(ctx, req).Valid)
}

func TestCSRFTokens(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	tok, err := e.Gate.IssueCSRFToken(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	assert.True(t, e.Gate.ValidateCSRFToken(ctx, "u1", tok))
	assert.False(t, e.Gate.ValidateCSRFToken(ctx, "u2", tok))
	assert.False(t, e.Gate.ValidateCSRFToken(ctx, "u1", "forged"))

	e.clock.Advance(time.Hour)
	assert.False(t, e.Gate.ValidateCSRFToken(ctx, "u1", tok))

	_, err = e.Gate.IssueCSRFToken(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
