package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
)

// Clock creates timers. A timer starts as soon as it is created.
type Clock interface {
	NewTimer(sched core.Schedule, fire func()) (Timer, error)
}

// Timer is a running schedule.
type Timer interface {
	// Stop prevents future firings. Stopping a fired or stopped timer is a
	// no-op.
	Stop()
	// Next returns the next firing time, or the zero time if there is none.
	Next() time.Time
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron reports whether expr is a cron expression CronClock accepts.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// CronClock runs timers on a shared robfig/cron scheduler. Cron expressions
// take an optional leading seconds field and descriptors such as "@every 1m".
type CronClock struct {
	cron *cron.Cron

	mu      sync.Mutex
	stopped bool
}

// NewCronClock creates and starts a CronClock.
func NewCronClock(logger *slog.Logger) *CronClock {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	c.Start()
	return &CronClock{cron: c}
}

// NewTimer implements Clock.
func (c *CronClock) NewTimer(sched core.Schedule, fire func()) (Timer, error) {
	var s cron.Schedule
	if sched.IsOnce() {
		s = &onceSchedule{at: sched.At}
	} else {
		parsed, err := cronParser.Parse(sched.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
		}
		s = parsed
	}
	id := c.cron.Schedule(s, cron.FuncJob(fire))
	return &cronTimer{cron: c.cron, id: id}, nil
}

// Stop halts the scheduler and waits for running callbacks to return.
func (c *CronClock) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	<-c.cron.Stop().Done()
}

type cronTimer struct {
	cron *cron.Cron
	id   cron.EntryID
}

func (t *cronTimer) Stop() {
	t.cron.Remove(t.id)
}

func (t *cronTimer) Next() time.Time {
	return t.cron.Entry(t.id).Next
}

// onceSchedule fires a single time at an absolute instant.
type onceSchedule struct {
	at time.Time
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
