package services

import (
	"context"
	"fmt"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	// DefaultCleanupInterval is how often the janitor runs when none is
	// configured.
	DefaultCleanupInterval = 15 * time.Minute
	// idleWindow is how long a rate limit window may sit unused before the
	// janitor drops it.
	idleWindow = time.Hour
)

// Engine wires the security components over one store.
type Engine struct {
	Store     *database.Guarded
	Cipher    Cipher
	Device    *DeviceIdentity
	Sessions  *SessionManager
	Lockouts  *LockoutTracker
	Blocks    *BlockList
	Events    *EventLog
	Monitor   *Monitor
	Cache     *TransientCache
	Secure    *SecureStore
	Auth      *AuthGuard
	Gate      *APIGate
	Lifecycle *Lifecycle
	Alerts    *AlertHub

	loginWindows *StoreWindows
	gateWindows  *MemoryWindows
	opts         options
}

// NewEngine builds an engine from cfg over store. provider is required.
func NewEngine(cfg *config.Config, store database.KeyValueStore, provider IdentityProvider, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: identity provider", config.ErrConfigMissing)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store", config.ErrConfigMissing)
	}

	guarded := database.NewGuarded(store)
	cipher, err := NewCipher(cfg.CipherMode, cfg.EncryptionKey, guarded)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	e := &Engine{
		Store:        guarded,
		Cipher:       cipher,
		Device:       NewDeviceIdentity(guarded),
		loginWindows: NewStoreWindows(guarded),
		gateWindows:  NewMemoryWindows(),
		opts:         o,
	}

	e.Sessions = NewSessionManager(guarded, e.Device, cfg.SessionTimeout, opts...)
	e.Lockouts = NewLockoutTracker(guarded, cfg.LockoutDuration, opts...)
	e.Blocks = NewBlockList(guarded, DefaultBlockDuration, opts...)
	e.Events = NewEventLog(guarded, e.Device, cfg.EventChecksumKey, opts...)
	e.Cache = NewTransientCache(guarded, opts...)
	e.Secure = NewSecureStore(guarded, cipher, opts...)
	e.Alerts = NewAlertHub(opts...)

	thresholds := DefaultThresholds()
	thresholds.FailedLogins = cfg.MaxLoginAttempts
	e.Monitor = NewMonitor(guarded, e.Events, e.Lockouts, e.Blocks, thresholds, opts...)
	e.Monitor.SetCache(e.Cache)
	e.Monitor.SetPublisher(e.Alerts)

	e.Auth = NewAuthGuard(AuthGuardDeps{
		Provider:    provider,
		Sessions:    e.Sessions,
		Lockouts:    e.Lockouts,
		Limiter:     NewRateLimiter("login", e.loginWindows, opts...),
		Monitor:     e.Monitor,
		Events:      e.Events,
		Secure:      e.Secure,
		MaxAttempts: cfg.MaxLoginAttempts,
	}, opts...)
	e.Gate = NewAPIGate(NewRateLimiter("gate", e.gateWindows, opts...), e.Monitor, guarded, nil, opts...)

	e.Sessions.OnExpire(func(ctx context.Context, s models.Session) {
		e.Monitor.MonitorEvent(ctx, models.NewEvent(models.SessionExpiredDetails{
			ExpiredAt: s.ExpiresAt,
		}, s.DeviceID).WithUser(s.UserID))
	})

	e.Lifecycle = NewLifecycle(e.Sessions, opts...)
	e.Lifecycle.RegisterCleanup("transient_cache", func(ctx context.Context) error {
		_, err := e.Cache.Clear(ctx)
		return err
	})
	e.Lifecycle.RegisterCleanup("idle_rate_windows", func(context.Context) error {
		e.gateWindows.Prune(o.clock.Now(), idleWindow)
		return nil
	})

	return e, nil
}

// Cleanup removes expired lockouts, blocks, old events and stale rate
// limit windows.
func (e *Engine) Cleanup(ctx context.Context) error {
	res, err := e.Monitor.CleanupExpired(ctx)
	now := e.opts.clock.Now()
	windows, werr := e.loginWindows.PruneStale(ctx, now, idleWindow)
	gate := e.gateWindows.Prune(now, idleWindow)

	e.opts.logger.Info("security cleanup finished",
		"lockouts", res.Lockouts, "blocks", res.Blocks, "events", res.Events,
		"login_windows", windows, "gate_windows", gate)
	if err != nil {
		return err
	}
	return werr
}

// StartCleanupLoop runs Cleanup now and then every interval until ctx ends.
func (e *Engine) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := e.Cleanup(ctx); err != nil {
			e.opts.logger.Warn("security cleanup incomplete", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Cleanup(ctx); err != nil {
					e.opts.logger.Warn("security cleanup incomplete", "error", err)
				}
			}
		}
	}()
}
