package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"deadfeed/internal/metrics"

	"github.com/pterm/pterm"
)

func newTestScheduler() *Scheduler {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelFatal)
	return New(logger, metrics.New())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("Condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	var runs atomic.Int64
	s.Add(Key{ServerKey: "1:alpha", Kind: "killfeed"}, 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
}

func TestScheduler_NoOverlappingRuns(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	var concurrent atomic.Int64
	var maxSeen atomic.Int64
	var runs atomic.Int64

	key := Key{ServerKey: "1:alpha", Kind: "killfeed"}
	s.Add(key, 10*time.Millisecond, func(ctx context.Context) error {
		now := concurrent.Add(1)
		if now > maxSeen.Load() {
			maxSeen.Store(now)
		}
		time.Sleep(50 * time.Millisecond) // span several ticks
		concurrent.Add(-1)
		runs.Add(1)
		return nil
	})

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 2 })

	if maxSeen.Load() > 1 {
		t.Errorf("Observed %d concurrent runs for one pair, want at most 1", maxSeen.Load())
	}
}

func TestScheduler_SkippedTicksRecorded(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	block := make(chan struct{})
	key := Key{ServerKey: "1:alpha", Kind: "killfeed"}
	s.Add(key, 10*time.Millisecond, func(ctx context.Context) error {
		<-block
		return nil
	})

	waitFor(t, 2*time.Second, func() bool {
		for _, status := range s.Status() {
			if status.SkippedTicks >= 2 {
				return true
			}
		}
		return false
	})
	close(block)
}

func TestScheduler_PairsRunIndependently(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	block := make(chan struct{})
	var otherRuns atomic.Int64

	s.Add(Key{ServerKey: "1:alpha", Kind: "killfeed"}, 10*time.Millisecond, func(ctx context.Context) error {
		<-block
		return nil
	})
	s.Add(Key{ServerKey: "2:beta", Kind: "killfeed"}, 10*time.Millisecond, func(ctx context.Context) error {
		otherRuns.Add(1)
		return nil
	})

	// The blocked pair must not starve the other.
	waitFor(t, 2*time.Second, func() bool { return otherRuns.Load() >= 3 })
	close(block)
}

func TestScheduler_Nudge(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	var runs atomic.Int64
	key := Key{ServerKey: "1:alpha", Kind: "killfeed"}
	s.Add(key, time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if !s.Nudge(key) {
		t.Fatal("Nudge of a scheduled pair should return true")
	}
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 1 })

	if s.Nudge(Key{ServerKey: "9:none", Kind: "killfeed"}) {
		t.Error("Nudge of an unscheduled pair should return false")
	}
}

func TestScheduler_RemoveServerStopsAllKinds(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }
	s.Add(Key{ServerKey: "1:alpha", Kind: "killfeed"}, time.Hour, noop)
	s.Add(Key{ServerKey: "1:alpha", Kind: "log"}, time.Hour, noop)
	s.Add(Key{ServerKey: "2:beta", Kind: "killfeed"}, time.Hour, noop)

	s.RemoveServer("1:alpha")

	if s.Has(Key{ServerKey: "1:alpha", Kind: "killfeed"}) || s.Has(Key{ServerKey: "1:alpha", Kind: "log"}) {
		t.Error("Removed server should have no schedules")
	}
	if !s.Has(Key{ServerKey: "2:beta", Kind: "killfeed"}) {
		t.Error("Other server's schedule should survive")
	}
}

func TestScheduler_AddIsIdempotent(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }
	key := Key{ServerKey: "1:alpha", Kind: "killfeed"}
	s.Add(key, time.Hour, noop)
	s.Add(key, time.Hour, noop)

	if len(s.Keys()) != 1 {
		t.Errorf("Scheduled %d pairs, want 1", len(s.Keys()))
	}
}

func TestScheduler_StatusTracksRuns(t *testing.T) {
	s := newTestScheduler()
	defer s.Stop()

	var runs atomic.Int64
	key := Key{ServerKey: "1:alpha", Kind: "killfeed"}
	s.Add(key, time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Nudge(key)
	waitFor(t, 2*time.Second, func() bool {
		for _, status := range s.Status() {
			if status.RunCount >= 1 && !status.LastRun.IsZero() {
				return true
			}
		}
		return false
	})
}
