package services

import (
	"context"
	"fmt"
	"sync"
)

// AppState is the foreground state reported by the UI shell.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// Valid reports whether s is one of the known states.
func (s AppState) Valid() bool {
	switch s {
	case AppStateActive, AppStateInactive, AppStateBackground:
		return true
	}
	return false
}

// CleanupTask runs when the app moves to the background.
type CleanupTask func(ctx context.Context) error

type namedTask struct {
	name string
	run  CleanupTask
}

// TransitionReport describes what a state change did.
type TransitionReport struct {
	From         AppState `json:"from"`
	To           AppState `json:"to"`
	CleanedUp    []string `json:"cleaned_up,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	SessionValid *bool    `json:"session_valid,omitempty"`
}

// Lifecycle tracks the app state. Going to the background runs every
// registered cleanup task; coming back to the foreground revalidates the
// session.
type Lifecycle struct {
	mu        sync.Mutex
	state     AppState
	tasks     []namedTask
	listeners map[int]func(from, to AppState)
	nextID    int
	sessions  *SessionManager
	opts      options
}

func NewLifecycle(sessions *SessionManager, opts ...Option) *Lifecycle {
	return &Lifecycle{
		state:     AppStateActive,
		listeners: make(map[int]func(from, to AppState)),
		sessions:  sessions,
		opts:      buildOptions(opts),
	}
}

// State returns the current app state.
func (l *Lifecycle) State() AppState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RegisterCleanup adds a task run on every move to the background.
func (l *Lifecycle) RegisterCleanup(name string, task CleanupTask) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, namedTask{name: name, run: task})
}

// AddListener registers fn for state changes and returns a function that
// removes it.
func (l *Lifecycle) AddListener(fn func(from, to AppState)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// Transition moves to next. Moving to the current state does nothing.
// Cleanup task failures are reported, not returned.
func (l *Lifecycle) Transition(ctx context.Context, next AppState) (TransitionReport, error) {
	if !next.Valid() {
		return TransitionReport{}, fmt.Errorf("unknown app state %q", next)
	}

	l.mu.Lock()
	prev := l.state
	l.state = next
	tasks := append([]namedTask(nil), l.tasks...)
	listeners := make([]func(from, to AppState), 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()

	report := TransitionReport{From: prev, To: next}
	if prev == next {
		return report, nil
	}

	switch {
	case next == AppStateBackground:
		l.opts.logger.Info("app moved to background, running cleanup", "tasks", len(tasks))
		for _, t := range tasks {
			if err := l.runTask(ctx, t); err != nil {
				l.opts.logger.Warn("cleanup task failed", "task", t.name, "error", err)
				report.Failed = append(report.Failed, t.name)
				continue
			}
			report.CleanedUp = append(report.CleanedUp, t.name)
		}
	case prev == AppStateBackground && next == AppStateActive:
		valid := l.sessions.IsSessionValid(ctx)
		report.SessionValid = &valid
		l.opts.logger.Info("app returned to foreground", "session_valid", valid)
	default:
		l.opts.logger.Debug("app state changed", "from", prev, "to", next)
	}

	for _, fn := range listeners {
		fn(prev, next)
	}
	return report, nil
}

func (l *Lifecycle) runTask(ctx context.Context, t namedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(ctx)
}
