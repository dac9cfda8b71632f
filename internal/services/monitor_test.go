package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/techphono-security/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []models.SecurityAlert
}

func (p *recordingPublisher) Publish(a models.SecurityAlert) {
	p.mu.Lock()
	p.alerts = append(p.alerts, a)
	p.mu.Unlock()
}

func (p *recordingPublisher) rules() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, a := range p.alerts {
		out = append(out, a.Rules...)
	}
	return out
}

type monitorFixture struct {
	monitor   *Monitor
	events    *EventLog
	lockouts  *LockoutTracker
	blocks    *BlockList
	cache     *TransientCache
	published *recordingPublisher
	clock     *fakeClock
}

func newMonitorFixture() *monitorFixture {
	clock := newFakeClock()
	store := newTestStore()
	opts := []Option{WithClock(clock)}
	f := &monitorFixture{
		events:    newTestEventLog(store, clock, ""),
		lockouts:  NewLockoutTracker(store, 15*time.Minute, opts...),
		blocks:    NewBlockList(store, time.Hour, opts...),
		cache:     NewTransientCache(store, opts...),
		published: &recordingPublisher{},
		clock:     clock,
	}
	f.monitor = NewMonitor(store, f.events, f.lockouts, f.blocks, Thresholds{}, opts...)
	f.monitor.SetPublisher(f.published)
	f.monitor.SetCache(f.cache)
	return f
}

func TestMonitorFailedLoginsLockOut(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < 4; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com"))
	}
	assert.False(t, f.monitor.IsAccountLocked(ctx, "user@example.com"))
	assert.Empty(t, f.published.rules())

	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com"))
	assert.True(t, f.monitor.IsAccountLocked(ctx, "user@example.com"))
	assert.Equal(t, []string{RuleFailedLogins}, f.published.rules())

	n, err := f.events.Count(ctx, EventFilter{Types: []models.EventType{models.EventLockout}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.events.Count(ctx, EventFilter{Types: []models.EventType{models.EventSecurityAlert}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Every further failure inside the window raises its own alert; the
	// lockout itself is not renewed.
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com"))
	assert.Equal(t, []string{RuleFailedLogins, RuleFailedLogins}, f.published.rules())
	n, err = f.events.Count(ctx, EventFilter{Types: []models.EventType{models.EventLockout}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts, err := f.monitor.Alerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "user@example.com", alerts[0].TriggeringEvent.Identifier)
	assert.Equal(t, models.EventAuthFailure, alerts[0].TriggeringEvent.Type)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	require.Len(t, alerts[0].Alerts, 1)
	assert.Contains(t, alerts[0].Alerts[0], "user@example.com")
}

func TestMonitorAlertsOncePerTriggeringEvent(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < 25; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.DataAccessDetails{Endpoint: "/api/cart"}, "GET:/api/cart").WithUser("u1"))
	}

	alerts, err := f.monitor.Alerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 6, "events 20 through 25 each cross the threshold")
	assert.Len(t, f.published.rules(), 6)
	for _, a := range alerts {
		assert.Equal(t, "u1", a.TriggeringEvent.UserID)
	}
}

func TestMonitorAlertListIsBounded(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < MaxAlerts+5; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthAttemptDetails{}, "device-1").
			WithSeverity(models.SeverityCritical))
	}
	alerts, err := f.monitor.Alerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, MaxAlerts)
}

func TestMonitorCombinesRulesForOneEvent(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < 4; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com"))
	}
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com").
		WithSeverity(models.SeverityCritical))

	alerts, err := f.monitor.Alerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{RuleFailedLogins, RuleCriticalEvent}, alerts[0].Rules)
	assert.Len(t, alerts[0].Alerts, 2)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
}

func TestMonitorFailuresOutsideWindowDoNotCount(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < 4; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com"))
	}
	f.clock.Advance(61 * time.Minute)
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "user@example.com"))
	assert.False(t, f.monitor.IsAccountLocked(ctx, "user@example.com"))
}

func TestMonitorSuspiciousActivityBlocksSource(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < 10; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.SuspiciousActivityDetails{
			Source:   "192.168.1.20",
			Method:   "POST",
			Endpoint: "/api/repairs",
		}, "POST:/api/repairs"))
	}
	assert.True(t, f.monitor.IsBlocked(ctx, "192.168.1.20"))
	assert.False(t, f.monitor.IsBlocked(ctx, "POST:/api/repairs"))
	assert.Equal(t, []string{RuleSuspicious}, f.published.rules())
}

func TestMonitorDataAccessAlertsOnly(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	for i := 0; i < 20; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.DataAccessDetails{Endpoint: "/api/cart"}, "GET:/api/cart").WithUser("u1"))
	}
	assert.Equal(t, []string{RuleDataAccess}, f.published.rules())

	blocks, err := f.blocks.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestMonitorCriticalEvent(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthAttemptDetails{Reason: "tampered binary"}, "device-1").
		WithSeverity(models.SeverityCritical))
	assert.Equal(t, []string{RuleCriticalEvent}, f.published.rules())

	// The alert event is itself high severity and never re-triggers rules.
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.SecurityAlertDetails{Rules: []string{"x"}}, "device-1").
		WithSeverity(models.SeverityCritical))
	assert.Len(t, f.published.rules(), 1)
}

func TestMonitorDashboard(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "old@example.com"))
	f.clock.Advance(25 * time.Hour)
	for i := 0; i < 5; i++ {
		f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "a@example.com"))
	}
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "b@example.com"))
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.SuspiciousActivityDetails{Endpoint: "/x"}, "POST:/x"))

	d, err := f.monitor.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, d.FailedLogins, "counts every identifier in the last 24 hours")
	assert.Equal(t, 1, d.SuspiciousActivities)
	assert.Equal(t, 1, d.ActiveLockouts)
	require.Len(t, d.RecentAlerts, 1)
	assert.True(t, d.RecentAlerts[0].HasRule(RuleFailedLogins))
	assert.Equal(t, "a@example.com", d.RecentAlerts[0].TriggeringEvent.Identifier)

	// Served from cache until a new alert invalidates it.
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "b@example.com"))
	cached, err := f.monitor.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, cached.FailedLogins)

	f.clock.Advance(DashboardCacheTTL)
	fresh, err := f.monitor.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, fresh.FailedLogins)
}

func TestMonitorCleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()

	_, _ = f.lockouts.SetLockout(ctx, "a@example.com", "x")
	_, _ = f.blocks.Block(ctx, "10.0.0.1", "x")
	f.monitor.MonitorEvent(ctx, models.NewEvent(models.AuthSuccessDetails{}, "a@example.com"))
	f.clock.Advance(31 * 24 * time.Hour)

	res, err := f.monitor.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Lockouts: 1, Blocks: 1, Events: 1}, res)
}
