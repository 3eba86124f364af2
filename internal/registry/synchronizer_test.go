package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjobspec/ojs-cron-nats/internal/action"
	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/core/coretest"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler/schedulertest"
)

// fakeJobs records what the synchronizer routes to the lifecycle manager.
type fakeJobs struct {
	mu      sync.Mutex
	applied map[string][]*core.Definition
	removed []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{applied: make(map[string][]*core.Definition)}
}

func (f *fakeJobs) Apply(name string, def *core.Definition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[name] = append(f.applied[name], def)
}

func (f *fakeJobs) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
}

func (f *fakeJobs) appliedCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied[name])
}

func (f *fakeJobs) last(name string) *core.Definition {
	f.mu.Lock()
	defer f.mu.Unlock()
	defs := f.applied[name]
	if len(defs) == 0 {
		return nil
	}
	return defs[len(defs)-1]
}

func (f *fakeJobs) removedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func putDefinition(r *coretest.Remote, name, def string) {
	r.PutRecord(core.DefinitionPath(name), json.RawMessage(def))
}

func startSynchronizer(t *testing.T, remote *coretest.Remote, jobs Jobs) (*Synchronizer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s := New(remote, jobs, WithLogger(testLogger(&buf)), WithResubscribeInterval(0))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	s.settle()
	return s, &buf
}

func TestSynchronizer_StartWithMissingIndex(t *testing.T) {
	remote := coretest.New()
	jobs := newFakeJobs()

	s, _ := startSynchronizer(t, remote, jobs)

	assert.Empty(t, s.Tracked())
	opened, live := remote.IndexHandles()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, live)
}

func TestSynchronizer_StartWithExistingIndex(t *testing.T) {
	remote := coretest.New()
	putDefinition(remote, "a", `{"cron": "* * * * *"}`)
	remote.SetIndex("a", "b")
	jobs := newFakeJobs()

	s, _ := startSynchronizer(t, remote, jobs)

	assert.Equal(t, []string{"a", "b"}, s.Tracked())
	assert.Equal(t, 1, jobs.appliedCount("a"), "cached definition must be delivered immediately")
	assert.Zero(t, jobs.appliedCount("b"), "no definition record yet")
}

func TestSynchronizer_DiffCorrectness(t *testing.T) {
	remote := coretest.New()
	for _, name := range []string{"a", "b", "c", "d"} {
		putDefinition(remote, name, `{"cron": "* * * * *"}`)
	}
	jobs := newFakeJobs()
	s, _ := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a", "b", "c")
	s.settle()
	require.Equal(t, []string{"a", "b", "c"}, s.Tracked())

	remote.SetIndex("c", "b", "d")
	s.settle()

	assert.Equal(t, []string{"b", "c", "d"}, s.Tracked())
	assert.Equal(t, []string{"a"}, jobs.removedNames(), "torn down = L1 - L2")
	assert.Equal(t, 1, jobs.appliedCount("d"), "subscribed = L2 - L1")
	for _, name := range []string{"b", "c"} {
		assert.Equal(t, 1, remote.Acquired(core.DefinitionPath(name)), "%s must not be resubscribed", name)
		assert.Equal(t, 1, jobs.appliedCount(name), "%s must not churn its timer", name)
	}
	assert.Zero(t, remote.Live(core.DefinitionPath("a")), "removed record must be discarded")
}

func TestSynchronizer_EmptyListRemovesAll(t *testing.T) {
	remote := coretest.New()
	jobs := newFakeJobs()
	s, _ := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a", "b")
	s.settle()
	remote.SetIndex()
	s.settle()

	assert.Empty(t, s.Tracked())
	assert.ElementsMatch(t, []string{"a", "b"}, jobs.removedNames())
	assert.Zero(t, remote.LiveRecords())
	_, live := remote.IndexHandles()
	assert.Equal(t, 1, live, "an empty list is not a deletion")
}

func TestSynchronizer_DefinitionUpdatesAreRouted(t *testing.T) {
	remote := coretest.New()
	jobs := newFakeJobs()
	s, _ := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a")
	s.settle()
	putDefinition(remote, "a", `{"cron": "0 * * * *"}`)
	s.settle()
	putDefinition(remote, "a", `{"cron": "*/5 * * * *"}`)
	s.settle()

	assert.Equal(t, 2, jobs.appliedCount("a"))
	assert.Equal(t, "*/5 * * * *", jobs.last("a").Cron)
}

func TestSynchronizer_MalformedOrDeletedDefinitionRemovesTimer(t *testing.T) {
	remote := coretest.New()
	jobs := newFakeJobs()
	s, buf := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a")
	s.settle()
	putDefinition(remote, "a", `{"cron": 5}`)
	s.settle()
	remote.PutRecord(core.DefinitionPath("a"), nil)
	s.settle()

	assert.Equal(t, []string{"a", "a"}, jobs.removedNames())
	assert.Contains(t, buf.String(), "invalid cron definition")
	assert.Equal(t, []string{"a"}, s.Tracked(), "name stays tracked while listed")
}

func TestSynchronizer_IgnoresUpdatesFromDiscardedRecords(t *testing.T) {
	remote := coretest.New()
	jobs := newFakeJobs()
	s, _ := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a")
	s.settle()
	stale := s.records["a"]
	remote.SetIndex()
	s.settle()

	s.queue.post(func() { s.route("a", stale, json.RawMessage(`{"cron":"* * * * *"}`)) })
	s.settle()

	assert.Zero(t, jobs.appliedCount("a"))
}

func TestSynchronizer_ResubscribesAfterIndexDeletion(t *testing.T) {
	remote := coretest.New()
	for _, name := range []string{"a", "b", "c"} {
		putDefinition(remote, name, `{"cron": "* * * * *"}`)
	}
	jobs := newFakeJobs()
	s, buf := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a", "b")
	s.settle()

	remote.DeleteIndex()
	require.Eventually(t, func() bool {
		s.settle()
		opened, _ := remote.IndexHandles()
		return opened == 2 && len(s.Tracked()) == 0
	}, testTimeout, testTick)
	s.settle()

	remote.SetIndex("b", "c")
	s.settle()

	assert.Equal(t, []string{"b", "c"}, s.Tracked())
	for _, name := range []string{"b", "c"} {
		assert.Equal(t, 1, remote.Subscriptions(core.DefinitionPath(name)), "%s must have exactly one live subscription", name)
		assert.Equal(t, 1, remote.Live(core.DefinitionPath(name)))
	}
	assert.Zero(t, remote.Live(core.DefinitionPath("a")))
	_, live := remote.IndexHandles()
	assert.Equal(t, 1, live, "old index handle must be discarded")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "index record deleted")
}

func TestSynchronizer_RateLimitedResubscribeKeepsLoopRunning(t *testing.T) {
	remote := coretest.New()
	putDefinition(remote, "a", `{"cron": "* * * * *"}`)
	putDefinition(remote, "b", `{"cron": "* * * * *"}`)
	jobs := newFakeJobs()

	s := New(remote, jobs, WithLogger(testLogger(&bytes.Buffer{})), WithResubscribeInterval(500*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	remote.SetIndex("a")
	s.settle()

	// The first resubscription uses the limiter's burst and runs at once.
	remote.DeleteIndex()
	require.Eventually(t, func() bool {
		s.settle()
		opened, _ := remote.IndexHandles()
		return opened == 2 && len(s.Tracked()) == 0
	}, testTimeout, testTick)

	remote.SetIndex("b")
	s.settle()
	require.Equal(t, []string{"b"}, s.Tracked())

	// The second one has to wait, but definitions keep flowing meanwhile.
	remote.DeleteIndex()
	putDefinition(remote, "b", `{"cron": "*/5 * * * *"}`)

	start := time.Now()
	s.settle()
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, "*/5 * * * *", jobs.last("b").Cron)
	opened, _ := remote.IndexHandles()
	assert.Equal(t, 2, opened, "resubscription must still be pending")

	require.Eventually(t, func() bool {
		s.settle()
		opened, live := remote.IndexHandles()
		return opened == 3 && live == 1
	}, testTimeout, testTick)
}

func TestSynchronizer_StopCancelsPendingResubscribe(t *testing.T) {
	remote := coretest.New()
	s := New(remote, newFakeJobs(), WithLogger(testLogger(&bytes.Buffer{})), WithResubscribeInterval(time.Hour))
	require.NoError(t, s.Start(context.Background()))

	remote.DeleteIndex()
	require.Eventually(t, func() bool {
		s.settle()
		opened, _ := remote.IndexHandles()
		return opened == 2
	}, testTimeout, testTick)

	remote.DeleteIndex()
	s.settle()
	s.Stop()

	opened, live := remote.IndexHandles()
	assert.Equal(t, 2, opened)
	assert.Zero(t, live)
}

func TestSynchronizer_StopReleasesEverything(t *testing.T) {
	remote := coretest.New()
	jobs := newFakeJobs()
	s, _ := startSynchronizer(t, remote, jobs)

	remote.SetIndex("a", "b")
	s.settle()
	s.Stop()

	assert.Empty(t, s.Tracked())
	assert.Zero(t, remote.LiveRecords())
	_, live := remote.IndexHandles()
	assert.Zero(t, live)

	// Notifications after Stop are ignored and a second Stop is a no-op.
	remote.SetIndex("c")
	s.Stop()
	assert.Empty(t, s.Tracked())
}

func TestSynchronizer_StartTwice(t *testing.T) {
	remote := coretest.New()
	s, _ := startSynchronizer(t, remote, newFakeJobs())

	assert.Error(t, s.Start(context.Background()))
}

func TestSynchronizer_StopWithoutStart(t *testing.T) {
	s := New(coretest.New(), newFakeJobs())
	assert.NotPanics(t, s.Stop)
}

func TestSynchronizer_EndToEnd(t *testing.T) {
	remote := coretest.New()
	putDefinition(remote, "a", `{"cron": "* * * * * *", "emit": {"name": "tick", "data": 1}}`)
	putDefinition(remote, "b", `{"cron": "0 0 * * *"}`)

	var buf bytes.Buffer
	logger := testLogger(&buf)
	clock := schedulertest.New()
	manager := scheduler.NewManager(clock, action.NewExecutor(remote, action.WithLogger(logger)), scheduler.WithLogger(logger))
	s, _ := startSynchronizer(t, remote, manager)

	remote.SetIndex("a", "b")
	s.settle()
	require.Equal(t, 2, manager.Len())

	var timerA *schedulertest.Timer
	for _, tm := range clock.Active() {
		if tm.Schedule.Cron == "* * * * * *" {
			timerA = tm
		}
	}
	require.NotNil(t, timerA)

	timerA.Fire()
	require.Len(t, remote.Events(), 1)
	assert.Equal(t, "tick", remote.Events()[0].Name)
	assert.JSONEq(t, `1`, string(remote.Events()[0].Payload))

	timerA.Fire()
	assert.Len(t, remote.Events(), 2, "exactly one emit per fire")

	remote.SetIndex("b")
	s.settle()

	assert.False(t, timerA.Fire(), "removed job must not fire again")
	clock.FireAll()
	assert.Len(t, remote.Events(), 2)
	assert.Equal(t, 1, manager.Len())
	_, ok := manager.Job("a")
	assert.False(t, ok)
}
