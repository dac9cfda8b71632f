package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	AlertsKey = "seclog:alerts"
	MaxAlerts = 100

	DashboardWindow   = 24 * time.Hour
	DashboardCacheTTL = 30 * time.Second
	dashboardCacheKey = "dashboard"
	recentAlertLimit  = 10
)

// Alert rule names.
const (
	RuleFailedLogins  = "failed_logins"
	RuleSuspicious    = "suspicious_activity"
	RuleDataAccess    = "excessive_data_access"
	RuleCriticalEvent = "critical_event"

	lockoutReasonRule = "Too many failed login attempts"
	blockReasonRule   = "Repeated suspicious activity"
)

// Thresholds are per-window counts at which the monitor reacts.
type Thresholds struct {
	FailedLogins       int
	SuspiciousActivity int
	DataAccess         int
	Window             time.Duration
}

// DefaultThresholds: 5 failed logins lock the identifier, 10 suspicious
// events block the source, 20 data accesses by one user raise an alert, all
// counted over the last hour.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailedLogins:       5,
		SuspiciousActivity: 10,
		DataAccess:         20,
		Window:             time.Hour,
	}
}

// AlertPublisher receives every alert the monitor raises.
type AlertPublisher interface {
	Publish(alert models.SecurityAlert)
}

// Monitor logs events and applies the threshold rules to them.
type Monitor struct {
	store      *database.Guarded
	events     *EventLog
	lockouts   *LockoutTracker
	blocks     *BlockList
	cache      *TransientCache
	publisher  AlertPublisher
	thresholds Thresholds
	opts       options
}

func NewMonitor(store *database.Guarded, events *EventLog, lockouts *LockoutTracker, blocks *BlockList, thresholds Thresholds, opts ...Option) *Monitor {
	def := DefaultThresholds()
	if thresholds.FailedLogins <= 0 {
		thresholds.FailedLogins = def.FailedLogins
	}
	if thresholds.SuspiciousActivity <= 0 {
		thresholds.SuspiciousActivity = def.SuspiciousActivity
	}
	if thresholds.DataAccess <= 0 {
		thresholds.DataAccess = def.DataAccess
	}
	if thresholds.Window <= 0 {
		thresholds.Window = def.Window
	}
	return &Monitor{
		store:      store,
		events:     events,
		lockouts:   lockouts,
		blocks:     blocks,
		thresholds: thresholds,
		opts:       buildOptions(opts),
	}
}

// SetPublisher attaches the realtime alert sink.
func (m *Monitor) SetPublisher(p AlertPublisher) { m.publisher = p }

// SetCache attaches the cache used for the dashboard.
func (m *Monitor) SetCache(c *TransientCache) { m.cache = c }

// Thresholds returns the active thresholds.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// MonitorEvent logs ev and evaluates the rules it can trigger. Every event
// that trips at least one rule is stored and published as one alert. It
// never fails; rule evaluation errors are logged and skipped.
func (m *Monitor) MonitorEvent(ctx context.Context, ev models.SecurityEvent) models.SecurityEvent {
	ev = m.events.Log(ctx, ev)
	if ev.Type == models.EventSecurityAlert {
		return ev
	}

	var tripped []trippedRule
	add := func(rule, msg string, ok bool) {
		if ok {
			tripped = append(tripped, trippedRule{rule: rule, message: msg})
		}
	}
	switch ev.Type {
	case models.EventAuthFailure:
		msg, ok := m.checkFailedLogins(ctx, ev)
		add(RuleFailedLogins, msg, ok)
	case models.EventSuspiciousActivity:
		msg, ok := m.checkSuspicious(ctx, ev)
		add(RuleSuspicious, msg, ok)
	case models.EventDataAccess:
		msg, ok := m.checkDataAccess(ctx, ev)
		add(RuleDataAccess, msg, ok)
	}
	if ev.Severity == models.SeverityCritical {
		add(RuleCriticalEvent, fmt.Sprintf("Critical security event: %s", ev.Type), true)
	}

	if len(tripped) > 0 {
		m.raise(ctx, ev, tripped)
	}
	return ev
}

type trippedRule struct {
	rule    string
	message string
}

func (m *Monitor) checkFailedLogins(ctx context.Context, ev models.SecurityEvent) (string, bool) {
	if ev.Identifier == "" {
		return "", false
	}
	n, err := m.events.FailedLogins(ctx, ev.Identifier, m.thresholds.Window)
	if err != nil {
		m.ruleFailed(RuleFailedLogins, err)
		return "", false
	}
	if n < m.thresholds.FailedLogins {
		return "", false
	}

	created, err := m.lockouts.SetLockout(ctx, ev.Identifier, lockoutReasonRule)
	if err != nil {
		m.opts.logger.Error("automated lockout failed", "identifier", logging.Mask(ev.Identifier), "error", err)
	}
	if created {
		m.events.Log(ctx, models.NewEvent(models.LockoutDetails{
			Reason: lockoutReasonRule,
			Until:  m.opts.clock.Now().Add(m.lockouts.Duration()),
		}, ev.Identifier))
	}
	return fmt.Sprintf("Multiple failed login attempts detected for %s (%d in the last %s)",
		ev.Identifier, n, m.thresholds.Window), true
}

func (m *Monitor) checkSuspicious(ctx context.Context, ev models.SecurityEvent) (string, bool) {
	if ev.Identifier == "" {
		return "", false
	}
	n, err := m.events.SuspiciousActivity(ctx, ev.Identifier, m.thresholds.Window)
	if err != nil {
		m.ruleFailed(RuleSuspicious, err)
		return "", false
	}
	if n < m.thresholds.SuspiciousActivity {
		return "", false
	}

	target := ev.Identifier
	if d, ok := ev.Details.(models.SuspiciousActivityDetails); ok && d.Source != "" {
		target = d.Source
	}
	if _, err := m.blocks.Block(ctx, target, blockReasonRule); err != nil {
		m.opts.logger.Error("automated block failed", "identifier", logging.Mask(target), "error", err)
	}
	return fmt.Sprintf("Suspicious activity detected from %s (%d in the last %s)",
		target, n, m.thresholds.Window), true
}

func (m *Monitor) checkDataAccess(ctx context.Context, ev models.SecurityEvent) (string, bool) {
	if ev.UserID == "" {
		return "", false
	}
	n, err := m.events.DataAccess(ctx, ev.UserID, m.thresholds.Window)
	if err != nil {
		m.ruleFailed(RuleDataAccess, err)
		return "", false
	}
	if n < m.thresholds.DataAccess {
		return "", false
	}
	return fmt.Sprintf("Unusual data access pattern detected for user %s (%d in the last %s)",
		ev.UserID, n, m.thresholds.Window), true
}

func (m *Monitor) ruleFailed(rule string, err error) {
	m.opts.logger.Warn("rule evaluation skipped", "rule", rule, "error", err)
	m.opts.metrics.StoreErrorsTotal.WithLabelValues("monitor").Inc()
}

// raise stores one alert for ev, publishes it and logs it as a
// security_alert event. The stored list keeps the last MaxAlerts.
func (m *Monitor) raise(ctx context.Context, ev models.SecurityEvent, tripped []trippedRule) {
	alert := models.SecurityAlert{
		ID:              uuid.NewString(),
		Timestamp:       m.opts.clock.Now().UTC(),
		TriggeringEvent: ev,
		Severity:        models.SeverityHigh,
	}
	if ev.Severity == models.SeverityCritical {
		alert.Severity = models.SeverityCritical
	}
	for _, t := range tripped {
		alert.Rules = append(alert.Rules, t.rule)
		alert.Alerts = append(alert.Alerts, t.message)
	}

	err := m.store.Update(ctx, AlertsKey, func(cur string, ok bool) (string, bool, error) {
		alerts := decodeAlerts(cur, ok)
		alerts = append(alerts, alert)
		if len(alerts) > MaxAlerts {
			alerts = alerts[len(alerts)-MaxAlerts:]
		}
		data, err := json.Marshal(alerts)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	if err != nil {
		m.opts.logger.Error("failed to persist security alert", "rules", alert.Rules, "error", err)
		m.opts.metrics.StoreErrorsTotal.WithLabelValues("monitor").Inc()
	}

	if m.cache != nil {
		_ = m.cache.Delete(ctx, dashboardCacheKey)
	}
	for _, rule := range alert.Rules {
		m.opts.metrics.AlertsTotal.WithLabelValues(rule).Inc()
	}
	m.opts.logger.Warn("security alert", "rules", alert.Rules,
		"identifier", logging.Mask(ev.Identifier))
	if m.publisher != nil {
		m.publisher.Publish(alert)
	}

	m.events.Log(ctx, models.NewEvent(models.SecurityAlertDetails{
		AlertID: alert.ID,
		Rules:   alert.Rules,
		Alerts:  alert.Alerts,
	}, ev.Identifier).WithSeverity(alert.Severity).WithUser(ev.UserID))
}

func decodeAlerts(cur string, ok bool) []models.SecurityAlert {
	if !ok || cur == "" {
		return nil
	}
	var alerts []models.SecurityAlert
	if err := json.Unmarshal([]byte(cur), &alerts); err != nil {
		return nil
	}
	return alerts
}

// Alerts returns up to limit alerts, newest first.
func (m *Monitor) Alerts(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	cur, ok, err := m.store.Get(ctx, AlertsKey)
	if err != nil {
		return nil, err
	}
	alerts := decodeAlerts(cur, ok)
	out := make([]models.SecurityAlert, 0, len(alerts))
	for i := len(alerts) - 1; i >= 0; i-- {
		out = append(out, alerts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Dashboard summarizes the last 24 hours. Results are cached briefly.
func (m *Monitor) Dashboard(ctx context.Context) (*models.SecurityDashboard, error) {
	if m.cache != nil {
		var cached models.SecurityDashboard
		if hit, _ := m.cache.Get(ctx, dashboardCacheKey, &cached); hit {
			return &cached, nil
		}
	}

	events, err := m.events.Events(ctx)
	if err != nil {
		return nil, err
	}
	now := m.opts.clock.Now()
	since := now.Add(-DashboardWindow)

	d := &models.SecurityDashboard{
		TotalEvents:  len(events),
		RecentAlerts: []models.SecurityAlert{},
		GeneratedAt:  now.UTC(),
	}
	for _, ev := range events {
		if ev.Timestamp.Before(since) {
			continue
		}
		if ev.Severity == models.SeverityCritical {
			d.CriticalEvents++
		}
		switch ev.Type {
		case models.EventAuthFailure:
			d.FailedLogins++
		case models.EventSuspiciousActivity:
			d.SuspiciousActivities++
		}
	}

	alerts, err := m.Alerts(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a.Timestamp.Before(since) {
			continue
		}
		d.RecentAlerts = append(d.RecentAlerts, a)
		if len(d.RecentAlerts) == recentAlertLimit {
			break
		}
	}

	if lockouts, err := m.lockouts.List(ctx); err == nil {
		d.ActiveLockouts = len(lockouts)
	}
	if blocks, err := m.blocks.List(ctx); err == nil {
		d.ActiveBlocks = len(blocks)
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, dashboardCacheKey, d, DashboardCacheTTL); err != nil {
			m.opts.logger.Debug("dashboard cache write failed", "error", err)
		}
	}
	return d, nil
}

// IsBlocked reports whether a device or IP is blocked.
func (m *Monitor) IsBlocked(ctx context.Context, identifier string) bool {
	return m.blocks.IsBlocked(ctx, identifier)
}

// IsAccountLocked reports whether identifier is locked out.
func (m *Monitor) IsAccountLocked(ctx context.Context, identifier string) bool {
	return m.lockouts.IsLockedOut(ctx, identifier)
}

// CleanupResult counts what CleanupExpired removed.
type CleanupResult struct {
	Lockouts int `json:"lockouts"`
	Blocks   int `json:"blocks"`
	Events   int `json:"events"`
}

// CleanupExpired removes expired lockouts and blocks and events past the
// retention period. It continues past individual failures and returns the
// first error seen.
func (m *Monitor) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	var (
		res      CleanupResult
		firstErr error
		err      error
	)
	keep := func(e error) {
		if e != nil && firstErr == nil {
			firstErr = e
		}
	}

	res.Lockouts, err = m.lockouts.CleanupExpired(ctx)
	keep(err)
	res.Blocks, err = m.blocks.CleanupExpired(ctx)
	keep(err)
	res.Events, err = m.events.Prune(ctx, EventRetention)
	keep(err)

	if firstErr != nil {
		m.opts.logger.Warn("security cleanup incomplete", "error", firstErr)
	} else if res.Lockouts+res.Blocks+res.Events > 0 {
		m.opts.logger.Info("security cleanup", "lockouts", res.Lockouts, "blocks", res.Blocks, "events", res.Events)
	}
	return res, firstErr
}
