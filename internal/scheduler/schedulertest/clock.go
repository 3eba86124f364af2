// Package schedulertest provides a manually driven scheduler.Clock.
package schedulertest

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler"
)

// Clock records every timer it creates. Timers only fire when the test calls
// Fire or FireAll.
type Clock struct {
	mu     sync.Mutex
	timers []*Timer
}

var _ scheduler.Clock = (*Clock)(nil)

// New returns an empty Clock.
func New() *Clock {
	return &Clock{}
}

// NewTimer implements scheduler.Clock. Cron expressions containing "invalid"
// are rejected.
func (c *Clock) NewTimer(sched core.Schedule, fire func()) (scheduler.Timer, error) {
	if strings.Contains(sched.Cron, "invalid") {
		return nil, errors.New("invalid cron expression")
	}
	t := &Timer{Schedule: sched, fire: fire}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t, nil
}

// Timers returns every timer ever created.
func (c *Clock) Timers() []*Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Timer, len(c.timers))
	copy(out, c.timers)
	return out
}

// Active returns the timers that have not been stopped.
func (c *Clock) Active() []*Timer {
	var out []*Timer
	for _, t := range c.Timers() {
		if !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}

// FireAll fires every active timer once, in creation order.
func (c *Clock) FireAll() {
	for _, t := range c.Active() {
		t.Fire()
	}
}

// Timer is a fake scheduler.Timer.
type Timer struct {
	Schedule core.Schedule

	mu      sync.Mutex
	fire    func()
	stopped bool
	fired   int
}

// Fire runs the callback synchronously unless the timer was stopped. A
// one-shot timer fires at most once.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	if t.stopped || (t.Schedule.IsOnce() && t.fired > 0) {
		t.mu.Unlock()
		return false
	}
	t.fired++
	fire := t.fire
	t.mu.Unlock()
	fire()
	return true
}

// Stop implements scheduler.Timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Next implements scheduler.Timer.
func (t *Timer) Next() time.Time {
	return t.Schedule.At
}

// Stopped reports whether Stop was called.
func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Fired returns the number of times the timer fired.
func (t *Timer) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
