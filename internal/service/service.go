// Package service ties the registry synchronizer and the job manager into a
// single process component with a start/stop lifecycle.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the lifecycle state of the Service.
type State int

const (
	// StateInactive is the state before Start and after Stop.
	StateInactive State = iota
	// StateOK means the job index is being followed.
	StateOK
)

func (s State) String() string {
	if s == StateOK {
		return "ok"
	}
	return "inactive"
}

// Synchronizer follows the remote job index.
type Synchronizer interface {
	Start(ctx context.Context) error
	Stop()
}

// Jobs owns the timers of the tracked jobs.
type Jobs interface {
	Shutdown()
}

// Service runs the cron registry. Failures of individual jobs never change
// its state.
type Service struct {
	sync   Synchronizer
	jobs   Jobs
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	stopped  bool
	onChange []func(State)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(synchronizer Synchronizer, jobs Jobs, opts ...Option) *Service {
	s := &Service{
		sync:   synchronizer,
		jobs:   jobs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStateChange registers fn to be called after every state transition.
func (s *Service) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start subscribes to the job index and schedules every job it lists.
func (s *Service) Start(ctx context.Context) error {
	if err := s.sync.Start(ctx); err != nil {
		return fmt.Errorf("starting cron registry: %w", err)
	}
	s.setState(StateOK)
	s.logger.Info("cron service started")
	return nil
}

// Stop releases all subscriptions, then cancels every timer. The
// synchronizer is stopped first so no definition can be applied after the
// timers are gone. Calling Stop more than once is safe.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.sync.Stop()
	s.jobs.Shutdown()
	s.setState(StateInactive)
	s.logger.Info("cron service stopped")
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	fns := append([]func(State){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
