// Package scheduler provides a debounced single-flight job scheduler.
// Bursts of schedule calls for one key collapse into a single delayed
// execution carrying the most recent payload.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/metrics"
)

// JobFunc executes the expensive work for a key. It receives the payload
// captured at timer-fire time.
type JobFunc func(ctx context.Context, key string, payload any) error

type entryState int

const (
	statePending entryState = iota
	stateRunning
)

type entry struct {
	state   entryState
	timer   *time.Timer
	payload any
	gen     uint64
}

// Scheduler coalesces repeated Schedule calls per key into one execution
// after a quiet period. A key is in one of three states: idle (no entry),
// pending (debounce timer armed), or running (job in flight). Scheduling a
// running key is a deliberate no-op: the in-flight run is trusted to reflect
// recent state, and queuing a second run would build unbounded backlog under
// sustained bursts.
type Scheduler struct {
	logger   *slog.Logger
	debounce time.Duration
	run      JobFunc

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a scheduler firing run after debounce of quiet time per key.
func New(logger *slog.Logger, debounce time.Duration, run JobFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:   logger,
		debounce: debounce,
		run:      run,
		entries:  make(map[string]*entry),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Schedule arms or re-arms the debounce timer for key, replacing any pending
// payload. A superseded pending attempt produces no externally visible
// effects.
func (s *Scheduler) Schedule(key string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if e, ok := s.entries[key]; ok {
		if e.state == stateRunning {
			s.logger.Debug("schedule ignored, job in flight", slog.String("key", key))
			return
		}
		e.timer.Stop()
		e.payload = payload
		e.gen++
		gen := e.gen
		e.timer = time.AfterFunc(s.debounce, func() { s.fire(key, gen) })
		metrics.ObserveDebounceCancelled()
		return
	}

	e := &entry{state: statePending, payload: payload}
	s.entries[key] = e
	gen := e.gen
	e.timer = time.AfterFunc(s.debounce, func() { s.fire(key, gen) })
	s.logger.Debug("job scheduled", slog.String("key", key), slog.Duration("debounce", s.debounce))
}

func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || s.closed || e.state != statePending || e.gen != gen {
		// Superseded or cancelled between timer fire and lock acquisition.
		s.mu.Unlock()
		return
	}
	e.state = stateRunning
	payload := e.payload
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		start := time.Now()
		err := s.run(s.baseCtx, key, payload)
		duration := time.Since(start)
		if err != nil {
			metrics.ObserveSchedulerRun("error")
			s.logger.Error("scheduled job failed",
				slog.String("key", key),
				slog.Duration("duration", duration),
				slog.Any("error", err))
		} else {
			metrics.ObserveSchedulerRun("success")
			s.logger.Info("scheduled job completed",
				slog.String("key", key),
				slog.Duration("duration", duration))
		}

		// Completion returns the key to idle regardless of outcome; a retry
		// only happens if the caller schedules again.
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
	}()
}

// Pending reports whether key currently has an armed debounce timer.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.state == statePending
}

// Shutdown cancels all pending timers without side effects, waits for
// in-flight runs to complete, and rejects further Schedule calls.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, e := range s.entries {
		if e.state == statePending {
			e.timer.Stop()
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
}
