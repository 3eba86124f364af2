package scheduler_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler/schedulertest"
)

type firing struct {
	name string
	def  *core.Definition
}

type recordingRunner struct {
	mu    sync.Mutex
	fired []firing
}

func (r *recordingRunner) Execute(_ context.Context, name string, def *core.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, firing{name: name, def: def})
}

func (r *recordingRunner) firings() []firing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]firing(nil), r.fired...)
}

func newTestManager(t *testing.T) (*scheduler.Manager, *schedulertest.Clock, *recordingRunner, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clock := schedulertest.New()
	runner := &recordingRunner{}
	return scheduler.NewManager(clock, runner, scheduler.WithLogger(logger)), clock, runner, &buf
}

func TestManager_ApplyCreatesTimer(t *testing.T) {
	m, clock, runner, _ := newTestManager(t)
	def := &core.Definition{Cron: "* * * * * *", Emit: &core.EventOperation{Name: "tick"}}

	m.Apply("a", def)

	active := clock.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "* * * * * *", active[0].Schedule.Cron)
	assert.Equal(t, 1, m.Len())

	active[0].Fire()
	fired := runner.firings()
	require.Len(t, fired, 1)
	assert.Equal(t, "a", fired[0].name)
	assert.Same(t, def, fired[0].def)
}

func TestManager_ApplyReplacesTimer(t *testing.T) {
	m, clock, runner, _ := newTestManager(t)
	defA := &core.Definition{Cron: "0 * * * *"}
	defB := &core.Definition{Cron: "*/5 * * * *"}

	m.Apply("job", defA)
	m.Apply("job", defB)

	timers := clock.Timers()
	require.Len(t, timers, 2)
	assert.True(t, timers[0].Stopped(), "timer for the first definition must be stopped")
	require.Len(t, clock.Active(), 1)
	assert.Equal(t, "*/5 * * * *", clock.Active()[0].Schedule.Cron)

	assert.False(t, timers[0].Fire(), "replaced timer must not fire")
	clock.FireAll()

	fired := runner.firings()
	require.Len(t, fired, 1)
	assert.Same(t, defB, fired[0].def)

	info, ok := m.Job("job")
	require.True(t, ok)
	assert.Equal(t, "*/5 * * * *", info.Schedule)
}

func TestManager_RemoveIsIdempotent(t *testing.T) {
	m, clock, _, _ := newTestManager(t)

	m.Remove("missing")
	m.Apply("a", &core.Definition{Cron: "* * * * *"})
	m.Remove("a")
	m.Remove("a")

	assert.Zero(t, m.Len())
	assert.Empty(t, clock.Active())
	_, ok := m.Job("a")
	assert.False(t, ok)
}

func TestManager_InvalidDefinitionRejected(t *testing.T) {
	m, clock, _, buf := newTestManager(t)

	assert.NotPanics(t, func() {
		m.Apply("broken", &core.Definition{Emit: &core.EventOperation{Name: "tick"}})
	})

	assert.Empty(t, clock.Timers())
	assert.Zero(t, m.Len())
	assert.Equal(t, 1, strings.Count(buf.String(), "level=ERROR"))
	assert.Contains(t, buf.String(), "job=broken")
}

func TestManager_InvalidDefinitionStopsPreviousTimer(t *testing.T) {
	m, clock, _, _ := newTestManager(t)

	m.Apply("a", &core.Definition{Cron: "* * * * *"})
	m.Apply("a", &core.Definition{})

	require.Len(t, clock.Timers(), 1)
	assert.True(t, clock.Timers()[0].Stopped())
	assert.Zero(t, m.Len())
}

func TestManager_ClockRejection(t *testing.T) {
	m, clock, _, buf := newTestManager(t)

	m.Apply("a", &core.Definition{Cron: "invalid"})

	assert.Empty(t, clock.Active())
	assert.Zero(t, m.Len())
	assert.Contains(t, buf.String(), "invalid cron definition")
}

func TestManager_OneShotInPastWarns(t *testing.T) {
	m, clock, _, buf := newTestManager(t)

	m.Apply("late", &core.Definition{On: core.NewInstant(time.Now().Add(-time.Hour))})

	assert.Len(t, clock.Active(), 1)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestManager_OneShotFiresOnce(t *testing.T) {
	m, clock, runner, _ := newTestManager(t)

	m.Apply("once", &core.Definition{On: core.NewInstant(time.Now().Add(time.Hour))})
	clock.FireAll()
	clock.FireAll()

	assert.Len(t, runner.firings(), 1)
	// Removing a fired one-shot is still safe.
	m.Remove("once")
	assert.Zero(t, m.Len())
}

func TestManager_Shutdown(t *testing.T) {
	m, clock, runner, _ := newTestManager(t)

	m.Apply("a", &core.Definition{Cron: "* * * * *"})
	m.Apply("b", &core.Definition{Cron: "* * * * *"})
	m.Shutdown()

	assert.Zero(t, m.Len())
	assert.Empty(t, clock.Active())
	clock.FireAll()
	assert.Empty(t, runner.firings())
}

func TestManager_Jobs(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	m.Apply("b", &core.Definition{Cron: "@hourly", DeleteRecord: "x"})
	m.Apply("a", &core.Definition{Cron: "* * * * *", Emit: &core.EventOperation{Name: "tick"}})

	jobs := m.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, []string{core.ActionEmit}, jobs[0].Actions)
	assert.Equal(t, "b", jobs[1].Name)
	assert.Equal(t, "@hourly", jobs[1].Schedule)
	assert.False(t, jobs[1].Once)
}
