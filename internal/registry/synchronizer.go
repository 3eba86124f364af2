// Package registry keeps the local set of cron jobs in step with the remote
// job index.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/metrics"
)

// DefaultResubscribeInterval is the minimum spacing between index
// resubscriptions.
const DefaultResubscribeInterval = time.Second

// Jobs receives the definitions routed by the Synchronizer.
type Jobs interface {
	Apply(name string, def *core.Definition)
	Remove(name string)
}

// Synchronizer subscribes to the job index and to the definition record of
// every name it lists. It is told only the full list of names and works out
// additions and removals itself.
//
// All notifications are queued onto a single run loop. The index handle and
// the record map are only touched from that loop.
type Synchronizer struct {
	remote  core.Remote
	jobs    Jobs
	logger  *slog.Logger
	path    string
	limiter *rate.Limiter

	queue  *queue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the run loop.
	index        core.IndexHandle
	records      map[string]core.RecordHandle
	closed       bool
	resubPending bool
	resubTimer   *time.Timer

	mu      sync.Mutex
	tracked []string
	started bool
	stopped bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIndexPath overrides the index location.
func WithIndexPath(path string) Option {
	return func(s *Synchronizer) {
		if path != "" {
			s.path = path
		}
	}
}

// WithResubscribeInterval sets the minimum spacing between resubscriptions
// after the index record is deleted. Zero or less disables the limit.
func WithResubscribeInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New creates a Synchronizer routing definitions to jobs.
func New(remote core.Remote, jobs Jobs, opts ...Option) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		remote:  remote,
		jobs:    jobs,
		logger:  slog.Default(),
		path:    core.IndexPath,
		limiter: rate.NewLimiter(rate.Every(DefaultResubscribeInterval), 1),
		queue:   newQueue(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		records: make(map[string]core.RecordHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the index and reconciles with its current entries. An
// index that does not exist yet is treated as empty.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("registry: synchronizer already started")
	}
	s.started = true
	s.mu.Unlock()

	go s.run()

	var idx core.IndexHandle
	s.call(func() { idx = s.subscribeIndex() })
	if idx == nil {
		return errors.New("registry: synchronizer stopped during start")
	}

	if err := idx.WhenReady(ctx); err != nil {
		return fmt.Errorf("registry: wait for index %s: %w", s.path, err)
	}
	s.logger.Debug("successfully subscribed to cron jobs", "path", s.path)
	s.call(func() {
		if s.index == idx {
			s.reconcile(idx.Entries())
		}
	})
	return nil
}

// Stop releases every definition subscription and the index subscription.
// It does not touch the timers. Calling Stop more than once is safe.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.call(func() {
		for name, rec := range s.records {
			rec.Discard()
			delete(s.records, name)
		}
		if s.index != nil {
			s.index.Discard()
			s.index = nil
		}
		if s.resubTimer != nil {
			s.resubTimer.Stop()
			s.resubTimer = nil
		}
		s.closed = true
		s.publishTracked()
	})
	s.queue.close()
	<-s.done
}

// Tracked returns the sorted names currently tracked.
func (s *Synchronizer) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tracked))
	copy(out, s.tracked)
	return out
}

func (s *Synchronizer) run() {
	defer close(s.done)
	for {
		select {
		case <-s.queue.signal:
		case <-s.ctx.Done():
			// Drain what Stop queued before exiting.
			s.drain()
			if s.closed {
				return
			}
			<-s.queue.signal
		}
		s.drain()
		if s.closed {
			return
		}
	}
}

func (s *Synchronizer) drain() {
	for fn := s.queue.pop(); fn != nil; fn = s.queue.pop() {
		fn()
		if s.closed {
			return
		}
	}
}

// call runs fn on the loop and waits for it.
func (s *Synchronizer) call(fn func()) {
	done := make(chan struct{})
	s.queue.post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-s.done:
	}
}

// settle waits until the queue is empty, including work queued by work that
// was itself queued.
func (s *Synchronizer) settle() {
	done := make(chan struct{})
	var barrier func()
	barrier = func() {
		if s.queue.len() > 0 {
			s.queue.post(barrier)
			return
		}
		close(done)
	}
	s.queue.post(barrier)
	select {
	case <-done:
	case <-s.done:
	}
}

func (s *Synchronizer) subscribeIndex() core.IndexHandle {
	if s.closed {
		return nil
	}
	idx := s.remote.SubscribeIndex(s.path)
	s.index = idx
	idx.Subscribe(func(names []string) {
		s.queue.post(func() {
			if s.index == idx {
				s.reconcile(names)
			}
		})
	})
	idx.OnDeleted(func() {
		// Resubscribe from the loop, never from inside the handle's callback.
		s.queue.post(func() {
			if s.index != idx {
				return
			}
			s.logger.Debug("cron job index record deleted, resubscribing", "path", s.path)
			s.scheduleResubscribe()
		})
	})
	return idx
}

// scheduleResubscribe queues a resubscription once the rate limiter allows
// it. The loop never waits on the limiter. Deletions seen while one is
// pending are folded into it.
func (s *Synchronizer) scheduleResubscribe() {
	if s.closed || s.resubPending {
		return
	}
	delay := s.limiter.Reserve().Delay()
	if delay <= 0 {
		s.resubscribe()
		return
	}
	s.resubPending = true
	s.resubTimer = time.AfterFunc(delay, func() {
		s.queue.post(func() {
			s.resubPending = false
			s.resubTimer = nil
			s.resubscribe()
		})
	})
}

func (s *Synchronizer) resubscribe() {
	if s.closed {
		return
	}
	metrics.ResubscriptionsTotal.Inc()

	if s.index != nil {
		s.index.Discard()
	}
	idx := s.subscribeIndex()
	go func() {
		if err := idx.WhenReady(s.ctx); err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("resubscribed cron job index not ready", "path", s.path, "error", err)
			}
			return
		}
		s.queue.post(func() {
			if s.index == idx {
				s.reconcile(idx.Entries())
			}
		})
	}()
}

// reconcile diffs names against the tracked set.
func (s *Synchronizer) reconcile(names []string) {
	metrics.IndexUpdatesTotal.Inc()
	s.logger.Debug("updating cron jobs", "names", names)

	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		want[name] = struct{}{}
		if _, ok := s.records[name]; !ok {
			s.track(name)
		}
	}

	for name, rec := range s.records {
		if _, ok := want[name]; ok {
			continue
		}
		rec.Discard()
		delete(s.records, name)
		s.jobs.Remove(name)
	}
	s.publishTracked()
}

func (s *Synchronizer) track(name string) {
	rec := s.remote.GetRecord(core.DefinitionPath(name))
	s.records[name] = rec
	rec.Subscribe(func(data json.RawMessage) {
		s.queue.post(func() { s.route(name, rec, data) })
	}, true)
}

// route hands a definition update to the jobs, unless the record has been
// released in the meantime.
func (s *Synchronizer) route(name string, rec core.RecordHandle, data json.RawMessage) {
	if cur, ok := s.records[name]; !ok || cur != rec {
		return
	}
	def, err := core.ParseDefinition(data)
	switch {
	case err != nil:
		metrics.InvalidDefinitionsTotal.Inc()
		s.logger.Error("invalid cron definition", "job", name, "error", err)
		s.jobs.Remove(name)
	case def == nil:
		s.logger.Debug("cron definition record is empty", "job", name)
		s.jobs.Remove(name)
	default:
		s.jobs.Apply(name, def)
	}
}

func (s *Synchronizer) publishTracked() {
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	sort.Strings(names)
	s.mu.Lock()
	s.tracked = names
	s.mu.Unlock()
}
