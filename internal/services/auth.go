package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/models"
	"github.com/AnshRaj112/techphono-security/pkg/utils"
)

const (
	// AuthIdentityKey is the secure storage slot for the signed-in identity.
	AuthIdentityKey = "auth_identity"

	loginLimiterPrefix = "login:"
	loginWindow        = time.Minute
	signInMethod       = "password"

	securityCheckSample = 10
	securityCheckFloor  = 5
)

// AuthGuard puts lockout, rate limiting and event logging in front of the
// identity provider, and owns the session that follows a sign-in.
type AuthGuard struct {
	provider    IdentityProvider
	sessions    *SessionManager
	lockouts    *LockoutTracker
	limiter     *RateLimiter
	monitor     *Monitor
	events      *EventLog
	secure      *SecureStore
	maxAttempts int
	opts        options
}

// AuthGuardDeps bundles the components AuthGuard coordinates.
type AuthGuardDeps struct {
	Provider    IdentityProvider
	Sessions    *SessionManager
	Lockouts    *LockoutTracker
	Limiter     *RateLimiter
	Monitor     *Monitor
	Events      *EventLog
	Secure      *SecureStore
	MaxAttempts int
}

func NewAuthGuard(deps AuthGuardDeps, opts ...Option) *AuthGuard {
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = DefaultThresholds().FailedLogins
	}
	return &AuthGuard{
		provider:    deps.Provider,
		sessions:    deps.Sessions,
		lockouts:    deps.Lockouts,
		limiter:     deps.Limiter,
		monitor:     deps.Monitor,
		events:      deps.Events,
		secure:      deps.Secure,
		maxAttempts: deps.MaxAttempts,
		opts:        buildOptions(opts),
	}
}

// SignIn authenticates email and password and starts a session. A locked
// out identifier is refused before the provider is consulted.
func (g *AuthGuard) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &utils.ValidationError{Field: "password", Message: "Password is required"}
	}
	identifier := utils.NormalizeEmail(email)
	log := logging.Contextual(ctx, g.opts.logger).With("identifier", logging.Mask(identifier))

	if g.lockouts.IsLockedOut(ctx, identifier) {
		g.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthAttemptDetails{
			Method:  signInMethod,
			Blocked: true,
			Reason:  "locked_out",
		}, identifier))
		g.opts.metrics.SignInsTotal.WithLabelValues("locked").Inc()
		log.Info("sign-in refused: locked out")
		return nil, &LockedOutError{Identifier: identifier, Remaining: g.lockouts.TimeRemaining(ctx, identifier)}
	}

	decision, _ := g.limiter.Check(ctx, loginLimiterPrefix+identifier, g.maxAttempts, loginWindow)
	if !decision.Allowed {
		created, err := g.lockouts.SetLockout(ctx, identifier, "Too many sign-in attempts")
		if err != nil {
			log.Error("failed to record lockout", "error", err)
		}
		if created {
			g.monitor.MonitorEvent(ctx, models.NewEvent(models.LockoutDetails{
				Reason: "Too many sign-in attempts",
				Until:  g.opts.clock.Now().Add(g.lockouts.Duration()),
			}, identifier))
		}
		g.opts.metrics.SignInsTotal.WithLabelValues("locked").Inc()
		log.Warn("sign-in rate limit exceeded")
		remaining := g.lockouts.TimeRemaining(ctx, identifier)
		if remaining <= 0 {
			remaining = g.lockouts.Duration()
		}
		return nil, &LockedOutError{Identifier: identifier, Remaining: remaining}
	}

	ident, err := g.provider.SignIn(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			g.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{
				Reason: "invalid_credentials",
			}, identifier))
			g.opts.metrics.SignInsTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		g.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthAttemptDetails{
			Method: signInMethod,
			Reason: "provider_unavailable",
		}, identifier))
		g.opts.metrics.SignInsTotal.WithLabelValues("error").Inc()
		log.Error("identity provider sign-in failed", "error", err)
		if errors.Is(err, ErrIdentityProvider) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}

	if err := g.lockouts.ClearLockout(ctx, identifier); err != nil {
		log.Warn("failed to clear lockout after sign-in", "error", err)
	}
	if err := g.limiter.Reset(ctx, loginLimiterPrefix+identifier); err != nil {
		log.Warn("failed to reset sign-in limiter", "error", err)
	}
	if _, err := g.sessions.CreateSession(ctx, ident.ID); err != nil {
		g.opts.metrics.SignInsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := g.secure.Set(ctx, AuthIdentityKey, ident); err != nil {
		log.Warn("failed to store identity securely", "error", err)
	}

	g.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthSuccessDetails{
		Method: signInMethod,
	}, identifier).WithUser(ident.ID))
	g.opts.metrics.SignInsTotal.WithLabelValues("success").Inc()
	log.Info("user signed in", "user_id", ident.ID)
	return ident, nil
}

// SignOut ends the session and wipes secure storage. Lockouts survive a
// sign-out.
func (g *AuthGuard) SignOut(ctx context.Context) error {
	var userID string
	if s, err := g.sessions.Current(ctx); err == nil && s != nil {
		userID = s.UserID
	}
	if userID != "" {
		if err := g.provider.SignOut(ctx, userID); err != nil {
			g.opts.logger.Warn("identity provider sign-out failed", "error", err)
		}
	}
	if err := g.sessions.ClearSession(ctx); err != nil {
		return err
	}
	if _, err := g.secure.ClearAll(ctx); err != nil {
		return err
	}
	g.opts.logger.Info("user signed out")
	return nil
}

// Register validates and creates an account. It does not sign in.
func (g *AuthGuard) Register(ctx context.Context, email, password string) (*Identity, error) {
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := utils.ValidatePassword(password).Err(); err != nil {
		return nil, err
	}
	ident, err := g.provider.Register(ctx, utils.NormalizeEmail(email), password)
	if err != nil {
		return nil, err
	}
	g.opts.logger.Info("account registered", "user_id", ident.ID)
	return ident, nil
}

// CurrentUser returns the identity behind the live session.
func (g *AuthGuard) CurrentUser(ctx context.Context) (*Identity, error) {
	if !g.sessions.IsSessionValid(ctx) {
		return nil, ErrNotSignedIn
	}
	s, err := g.sessions.Current(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotSignedIn
	}
	ident, err := g.provider.Lookup(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, ErrNotSignedIn
	}
	return ident, nil
}

// SecurityChecks reports device posture: whether the session is live and
// whether recent sign-ins have mostly failed.
func (g *AuthGuard) SecurityChecks(ctx context.Context) models.SecurityCheck {
	check := models.SecurityCheck{IsValid: true, Issues: []string{}}
	if !g.sessions.IsSessionValid(ctx) {
		check.Issues = append(check.Issues, "Session has expired")
	}

	recent, err := g.events.Recent(ctx, securityCheckSample)
	if err != nil {
		g.opts.logger.Error("security check failed", "error", err)
		return models.SecurityCheck{IsValid: false, Issues: []string{"Security check failed"}}
	}
	since := g.opts.clock.Now().Add(-g.monitor.Thresholds().Window)
	failures := 0
	for _, ev := range recent {
		if ev.Type == models.EventAuthFailure && !ev.Timestamp.Before(since) {
			failures++
		}
	}
	if failures >= securityCheckFloor {
		check.Issues = append(check.Issues, "Multiple recent login failures detected")
	}

	check.IsValid = len(check.Issues) == 0
	return check
}
