package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	EventLogKey    = "seclog:events"
	MaxLogEntries  = 1000
	EventRetention = 30 * 24 * time.Hour
)

// EventFilter selects events for counting. Zero fields match everything.
type EventFilter struct {
	Types       []models.EventType
	Identifier  string
	UserID      string
	Since       time.Time
	MinSeverity models.Severity
}

func (f EventFilter) match(e models.SecurityEvent) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Identifier != "" && e.Identifier != f.Identifier {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if f.MinSeverity != "" && e.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	return true
}

// EventLog is an append-only ring of the most recent security events. Its
// checksums detect accidental corruption; with a checksum key configured
// they become HMACs, otherwise anyone able to edit the store can recompute
// them.
type EventLog struct {
	store       *database.Guarded
	device      *DeviceIdentity
	runID       string
	checksumKey []byte
	capacity    int
	opts        options
}

// NewEventLog builds a log holding up to MaxLogEntries events. checksumKey
// may be empty.
func NewEventLog(store *database.Guarded, device *DeviceIdentity, checksumKey string, opts ...Option) *EventLog {
	var key []byte
	if checksumKey != "" {
		key = []byte(checksumKey)
	}
	return &EventLog{
		store:       store,
		device:      device,
		runID:       uuid.NewString(),
		checksumKey: key,
		capacity:    MaxLogEntries,
		opts:        buildOptions(opts),
	}
}

// RunID identifies this process run; it is stamped on every event as the
// session id.
func (l *EventLog) RunID() string { return l.runID }

// Log stamps and appends ev, evicting the oldest entry beyond capacity. It
// never fails: problems are written to the structured log and counted.
// The stamped event is returned.
func (l *EventLog) Log(ctx context.Context, ev models.SecurityEvent) models.SecurityEvent {
	if err := ev.Validate(); err != nil {
		l.opts.logger.Error("dropping invalid security event", "type", ev.Type, "error", err)
		l.opts.metrics.EventLogFailures.Inc()
		return ev
	}
	if ev.Severity == "" {
		ev.Severity = ev.Type.DefaultSeverity()
	}
	ev.Timestamp = l.opts.clock.Now().UTC()
	ev.SessionID = l.runID
	if deviceID, err := l.device.ID(ctx); err == nil {
		ev.DeviceID = deviceID
	} else {
		l.opts.logger.Warn("device id unavailable for security event", "error", err)
	}
	ev.Checksum = ""
	sum, err := l.checksum(ev)
	if err != nil {
		l.opts.logger.Error("security event checksum failed", "type", ev.Type, "error", err)
		l.opts.metrics.EventLogFailures.Inc()
		return ev
	}
	ev.Checksum = sum

	err = l.store.Update(ctx, EventLogKey, func(cur string, ok bool) (string, bool, error) {
		events := l.decode(cur, ok)
		events = append(events, ev)
		if len(events) > l.capacity {
			events = events[len(events)-l.capacity:]
		}
		data, err := json.Marshal(events)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	if err != nil {
		l.opts.logger.Error("failed to persist security event",
			"type", ev.Type, "identifier", logging.Mask(ev.Identifier), "error", err)
		l.opts.metrics.EventLogFailures.Inc()
		l.opts.metrics.StoreErrorsTotal.WithLabelValues("eventlog").Inc()
		return ev
	}

	l.opts.metrics.EventsTotal.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
	if ev.Severity.Rank() >= models.SeverityHigh.Rank() {
		l.opts.logger.Warn("security event", "type", ev.Type, "severity", ev.Severity,
			"identifier", logging.Mask(ev.Identifier))
	} else {
		l.opts.logger.Debug("security event", "type", ev.Type, "severity", ev.Severity)
	}
	return ev
}

func (l *EventLog) decode(cur string, ok bool) []models.SecurityEvent {
	if !ok || cur == "" {
		return nil
	}
	var events []models.SecurityEvent
	if err := json.Unmarshal([]byte(cur), &events); err != nil {
		l.opts.logger.Error("security log unreadable, starting a new one", "error", err)
		return nil
	}
	return events
}

func (l *EventLog) checksum(ev models.SecurityEvent) (string, error) {
	ev.Checksum = ""
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	var h hash.Hash
	if l.checksumKey != nil {
		h = hmac.New(sha256.New, l.checksumKey)
	} else {
		h = sha256.New()
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Events returns every stored event, oldest first.
func (l *EventLog) Events(ctx context.Context) ([]models.SecurityEvent, error) {
	cur, ok, err := l.store.Get(ctx, EventLogKey)
	if err != nil {
		return nil, err
	}
	return l.decode(cur, ok), nil
}

// Recent returns up to limit events, newest first. A limit of zero or less
// returns all of them.
func (l *EventLog) Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	events, err := l.Events(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.SecurityEvent, len(events))
	for i, ev := range events {
		out[len(events)-1-i] = ev
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns how many stored events match f.
func (l *EventLog) Count(ctx context.Context, f EventFilter) (int, error) {
	events, err := l.Events(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range events {
		if f.match(ev) {
			n++
		}
	}
	return n, nil
}

// FailedLogins counts auth failures for identifier within lookback. An
// empty identifier counts all identifiers.
func (l *EventLog) FailedLogins(ctx context.Context, identifier string, lookback time.Duration) (int, error) {
	return l.Count(ctx, EventFilter{
		Types:      []models.EventType{models.EventAuthFailure},
		Identifier: identifier,
		Since:      l.opts.clock.Now().Add(-lookback),
	})
}

// SuspiciousActivity counts suspicious events for identifier within lookback.
func (l *EventLog) SuspiciousActivity(ctx context.Context, identifier string, lookback time.Duration) (int, error) {
	return l.Count(ctx, EventFilter{
		Types:      []models.EventType{models.EventSuspiciousActivity},
		Identifier: identifier,
		Since:      l.opts.clock.Now().Add(-lookback),
	})
}

// DataAccess counts data access events by userID within lookback.
func (l *EventLog) DataAccess(ctx context.Context, userID string, lookback time.Duration) (int, error) {
	return l.Count(ctx, EventFilter{
		Types:  []models.EventType{models.EventDataAccess},
		UserID: userID,
		Since:  l.opts.clock.Now().Add(-lookback),
	})
}

// Verify recomputes every checksum and returns the positions (oldest first,
// zero-based) of events that do not match.
func (l *EventLog) Verify(ctx context.Context) ([]int, error) {
	events, err := l.Events(ctx)
	if err != nil {
		return nil, err
	}
	var bad []int
	for i, ev := range events {
		sum, err := l.checksum(ev)
		if err != nil || !hmac.Equal([]byte(sum), []byte(ev.Checksum)) {
			bad = append(bad, i)
		}
	}
	return bad, nil
}

// Prune drops events older than maxAge and returns how many were removed.
func (l *EventLog) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := l.opts.clock.Now().Add(-maxAge)
	removed := 0
	err := l.store.Update(ctx, EventLogKey, func(cur string, ok bool) (string, bool, error) {
		events := l.decode(cur, ok)
		kept := events[:0]
		for _, ev := range events {
			if ev.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		if removed == 0 {
			return cur, ok, nil
		}
		if len(kept) == 0 {
			return "", false, nil
		}
		data, err := json.Marshal(kept)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
