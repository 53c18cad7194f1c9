// Package scheduler preloads widgets in the background, high priority first.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Preloader is what the scheduler drives. *loader.Loader satisfies it.
type Preloader interface {
	Preload(ctx context.Context, id string) error
	IsLoaded(id string) bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scheduler queues widget ids for preloading. High-priority ids drain before any
// low-priority id starts; preloads run one at a time on a single drain goroutine.
type Scheduler struct {
	ctx       context.Context
	preloader Preloader
	logger    *zap.Logger

	mu       sync.Mutex
	high     []string
	low      []string
	pending  map[string]struct{}
	draining bool
	idle     chan struct{}
}

// New creates a scheduler. ctx bounds every preload it starts.
func New(ctx context.Context, preloader Preloader, opts ...Option) *Scheduler {
	idle := make(chan struct{})
	close(idle)

	s := &Scheduler{
		ctx:       ctx,
		preloader: preloader,
		logger:    zap.NewNop(),
		pending:   make(map[string]struct{}),
		idle:      idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddHighPriority queues id ahead of all low-priority work
func (s *Scheduler) AddHighPriority(id string) {
	s.add(id, true)
}

// AddLowPriority queues id behind all high-priority work
func (s *Scheduler) AddLowPriority(id string) {
	s.add(id, false)
}

func (s *Scheduler) add(id string, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[id]; ok {
		return
	}
	if s.preloader.IsLoaded(id) {
		return
	}

	s.pending[id] = struct{}{}
	if high {
		s.high = append(s.high, id)
	} else {
		s.low = append(s.low, id)
	}

	if !s.draining {
		s.draining = true
		s.idle = make(chan struct{})
		go s.drain(s.idle)
	}
}

// drain preloads queued ids until both queues are empty
func (s *Scheduler) drain(idle chan struct{}) {
	for {
		id, ok := s.next()
		if !ok {
			close(idle)
			return
		}

		if err := s.preloader.Preload(s.ctx, id); err != nil {
			s.logger.Warn("Widget preload failed", zap.String("widget_id", id), zap.Error(err))
		} else {
			s.logger.Debug("Widget preloaded", zap.String("widget_id", id))
		}

		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// next pops the next id, or clears the draining flag when there is nothing left
func (s *Scheduler) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	switch {
	case len(s.high) > 0:
		id, s.high = s.high[0], s.high[1:]
	case len(s.low) > 0:
		id, s.low = s.low[0], s.low[1:]
	default:
		s.draining = false
		return "", false
	}
	return id, true
}

// Pending returns the number of queued ids per priority, excluding the one in progress
func (s *Scheduler) Pending() (high, low int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.high), len(s.low)
}

// Draining reports whether the drain goroutine is running
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Wait blocks until the scheduler is idle or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
