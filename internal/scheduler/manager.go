// Package scheduler owns the running timer of every tracked cron job.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/metrics"
)

// Runner executes a fired job.
type Runner interface {
	Execute(ctx context.Context, name string, def *core.Definition)
}

// JobInfo describes a job with a live timer.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Once     bool      `json:"once"`
	Actions  []string  `json:"actions"`
	Next     time.Time `json:"next_run_at,omitzero"`
}

type entry struct {
	timer Timer
	sched core.Schedule
	def   *core.Definition
}

// Manager maps job names to timers. There is at most one timer per name, and
// it is always built from the most recently applied definition.
type Manager struct {
	clock  Clock
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*entry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager.
func NewManager(clock Clock, runner Runner, opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:  clock,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
		jobs:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply replaces the timer of name with one built from def. The previous
// timer is stopped even if def turns out to be invalid.
func (m *Manager) Apply(name string, def *core.Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(name)

	sched, err := def.Schedule()
	if err != nil {
		metrics.InvalidDefinitionsTotal.Inc()
		m.logger.Error("invalid cron definition", "job", name, "error", err)
		return
	}
	if sched.IsOnce() && !sched.At.After(m.now()) {
		m.logger.Warn("cron job time is in the past and will not fire", "job", name, "on", sched.At)
	}

	timer, err := m.clock.NewTimer(sched, func() {
		m.runner.Execute(context.Background(), name, def)
	})
	if err != nil {
		metrics.InvalidDefinitionsTotal.Inc()
		m.logger.Error("invalid cron definition", "job", name, "error", err)
		return
	}

	m.jobs[name] = &entry{timer: timer, sched: sched, def: def}
	metrics.JobsActive.Set(float64(len(m.jobs)))
	m.logger.Info("created cron job", "job", name, "schedule", sched.String())
}

// Remove stops the timer of name. It is a no-op for unknown names.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeLocked(name) {
		m.logger.Info("removed cron job", "job", name)
	}
}

func (m *Manager) removeLocked(name string) bool {
	e, ok := m.jobs[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(m.jobs, name)
	metrics.JobsActive.Set(float64(len(m.jobs)))
	return true
}

// Shutdown stops every timer. Firings already in progress run to completion.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.jobs {
		e.timer.Stop()
		delete(m.jobs, name)
	}
	metrics.JobsActive.Set(0)
}

// Len returns the number of live timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Job returns the live timer info of name.
func (m *Manager) Job(name string) (JobInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[name]
	if !ok {
		return JobInfo{}, false
	}
	return e.info(name), true
}

// Jobs returns the live timers sorted by name.
func (m *Manager) Jobs() []JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobInfo, 0, len(m.jobs))
	for name, e := range m.jobs {
		out = append(out, e.info(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *entry) info(name string) JobInfo {
	return JobInfo{
		Name:     name,
		Schedule: e.sched.String(),
		Once:     e.sched.IsOnce(),
		Actions:  e.def.Actions(),
		Next:     e.timer.Next(),
	}
}
