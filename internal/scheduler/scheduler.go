package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"deadfeed/internal/metrics"

	"github.com/pterm/pterm"
)

// Key identifies one scheduled unit: a (server, ingestor kind) pair.
type Key struct {
	ServerKey string
	Kind      string
}

// Task is one ingestion cycle. Errors are logged and isolated; a
// failing task never affects any other pair's schedule.
type Task func(ctx context.Context) error

type entry struct {
	key      Key
	interval time.Duration
	task     Task

	nudge chan struct{}
	stop  chan struct{}

	inFlight atomic.Bool
	skipped  atomic.Int64

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	runCount int64
}

// EntryStatus is a point-in-time view of one scheduled pair.
type EntryStatus struct {
	ServerKey    string        `json:"server_key"`
	Kind         string        `json:"kind"`
	Interval     time.Duration `json:"interval"`
	InFlight     bool          `json:"in_flight"`
	SkippedTicks int64         `json:"skipped_ticks"`
	RunCount     int64         `json:"run_count"`
	LastRun      time.Time     `json:"last_run"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler drives fixed-interval execution per (server, kind) pair
// with at most one in-flight run per pair. An overdue tick is skipped
// and recorded, never queued. Pairs run fully concurrently.
type Scheduler struct {
	logger  *pterm.Logger
	metrics *metrics.Ingestion

	mu      sync.Mutex
	entries map[Key]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *pterm.Logger, m *metrics.Ingestion) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger,
		metrics: m,
		entries: make(map[Key]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules a pair. Adding an already scheduled key is a no-op.
func (s *Scheduler) Add(key Key, interval time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		s.logger.Debug("Pair already scheduled, skipping",
			s.logger.Args("server", key.ServerKey, "kind", key.Kind))
		return
	}

	e := &entry{
		key:      key,
		interval: interval,
		task:     task,
		nudge:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	s.entries[key] = e

	s.wg.Add(1)
	go s.loop(e)

	s.logger.Info("Scheduled ingestion pair",
		s.logger.Args("server", key.ServerKey, "kind", key.Kind, "interval", interval.String()))
}

// Remove stops future ticks for a pair. An in-flight run is allowed
// to finish.
func (s *Scheduler) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

// RemoveServer removes every kind scheduled for a server.
func (s *Scheduler) RemoveServer(serverKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.ServerKey == serverKey {
			s.removeLocked(key)
		}
	}
}

func (s *Scheduler) removeLocked(key Key) {
	e, exists := s.entries[key]
	if !exists {
		return
	}
	close(e.stop)
	delete(s.entries, key)
	s.logger.Info("Unscheduled ingestion pair",
		s.logger.Args("server", key.ServerKey, "kind", key.Kind))
}

// Has reports whether a pair is currently scheduled.
func (s *Scheduler) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.entries[key]
	return exists
}

// Keys returns the scheduled pairs.
func (s *Scheduler) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

// Nudge requests an early run for a pair, subject to the same
// non-overlap rule as a regular tick. Returns false if the pair is
// not scheduled.
func (s *Scheduler) Nudge(key Key) bool {
	s.mu.Lock()
	e, exists := s.entries[key]
	s.mu.Unlock()
	if !exists {
		return false
	}
	select {
	case e.nudge <- struct{}{}:
	default: // a nudge is already pending
	}
	return true
}

// NudgeServer nudges every kind scheduled for a server.
func (s *Scheduler) NudgeServer(serverKey string) {
	for _, key := range s.Keys() {
		if key.ServerKey == serverKey {
			s.Nudge(key)
		}
	}
}

// Stop cancels all loops and waits for in-flight runs to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Status reports all scheduled pairs.
func (s *Scheduler) Status() []EntryStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	statuses := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		status := EntryStatus{
			ServerKey:    e.key.ServerKey,
			Kind:         e.key.Kind,
			Interval:     e.interval,
			InFlight:     e.inFlight.Load(),
			SkippedTicks: e.skipped.Load(),
			RunCount:     e.runCount,
			LastRun:      e.lastRun,
		}
		if e.lastErr != nil {
			status.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		statuses = append(statuses, status)
	}
	return statuses
}

func (s *Scheduler) loop(e *entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			s.fire(e)
		case <-e.nudge:
			s.fire(e)
		}
	}
}

// fire runs the task unless the previous run is still executing, in
// which case the tick is recorded as skipped.
func (s *Scheduler) fire(e *entry) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.metrics.TicksSkipped.WithLabelValues(e.key.Kind, e.key.ServerKey).Inc()
		s.logger.Warn("Tick skipped: previous run still in flight",
			s.logger.Args("server", e.key.ServerKey, "kind", e.key.Kind))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.inFlight.Store(false)

		start := time.Now()
		err := e.task(s.ctx)

		e.mu.Lock()
		e.lastRun = start
		e.lastErr = err
		e.runCount++
		e.mu.Unlock()

		if err != nil {
			s.logger.Warn("Ingestion cycle failed",
				s.logger.Args(
					"server", e.key.ServerKey,
					"kind", e.key.Kind,
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err,
				))
			return
		}
		s.logger.Trace("Ingestion cycle completed",
			s.logger.Args(
				"server", e.key.ServerKey,
				"kind", e.key.Kind,
				"duration_ms", time.Since(start).Milliseconds(),
			))
	}()
}
