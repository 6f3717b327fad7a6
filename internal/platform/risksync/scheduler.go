// Package risksync keeps displayed risk scores fresh without server push.
// A Scheduler polls registered entity sets on an interval and also accepts
// event-driven triggers; either way at most one reconciliation per entity
// set is in flight at a time.
package risksync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rcm/rcm/internal/platform/metrics"
)

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 20 * time.Second

// ReconcileFunc re-fetches current scores for one entity set and merges
// them into local state.
type ReconcileFunc func(ctx context.Context) error

// Scheduler drives periodic and event-triggered reconciliation.
type Scheduler struct {
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	sets     map[string]ReconcileFunc
	inFlight map[string]bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	sf singleflight.Group
}

// New creates a stopped Scheduler. A non-positive interval falls back to
// DefaultInterval.
func New(interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		logger:   logger,
		sets:     make(map[string]ReconcileFunc),
		inFlight: make(map[string]bool),
	}
}

// RegisterSet adds (or replaces) a named entity set.
func (s *Scheduler) RegisterSet(name string, fn ReconcileFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[name] = fn
}

// Start launches the poll loop. Calling Start on a running scheduler is a
// no-op; the scheduler is restartable after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the poll loop and waits for in-flight reconciliations started
// by the loop to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.tryRun(ctx, name)
	}
}

// tryRun starts a reconciliation for the set unless one is already in
// flight, in which case the tick is skipped rather than queued.
func (s *Scheduler) tryRun(ctx context.Context, name string) {
	s.mu.Lock()
	fn, ok := s.sets[name]
	if !ok || s.inFlight[name] {
		if s.inFlight[name] {
			metrics.SyncRuns.WithLabelValues("skipped").Inc()
			s.logger.Debug().Str("set", name).Msg("risk sync skipped, previous run in flight")
		}
		s.mu.Unlock()
		return
	}
	s.inFlight[name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.inFlight[name] = false
			s.mu.Unlock()
		}()
		s.run(ctx, name, fn)
	}()
}

// Trigger runs a reconciliation for the set immediately, coalescing
// concurrent triggers for the same set into a single run. Used by the
// event-bus subscription; polling remains the fallback.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.sets[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err, _ := s.sf.Do(name, func() (interface{}, error) {
		s.mu.Lock()
		if s.inFlight[name] {
			s.mu.Unlock()
			metrics.SyncRuns.WithLabelValues("skipped").Inc()
			return nil, nil
		}
		s.inFlight[name] = true
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.inFlight[name] = false
			s.mu.Unlock()
		}()
		return nil, s.run(ctx, name, fn)
	})
	return err
}

func (s *Scheduler) run(ctx context.Context, name string, fn ReconcileFunc) error {
	start := time.Now()
	err := fn(ctx)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("set", name).Msg("risk sync failed")
		return err
	}
	metrics.SyncRuns.WithLabelValues("ok").Inc()
	return nil
}
