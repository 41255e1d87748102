// Package poller bridges pull-only external telemetry sources into the
// ingestion gate. One poller loop runs per source, advancing a persisted
// cursor after each fully successful window and backing off after repeated
// failures.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/ingest"
	"github.com/sentinelstack/sentinel-ingest/internal/metrics"
	"github.com/sentinelstack/sentinel-ingest/internal/models"
	"github.com/sentinelstack/sentinel-ingest/internal/utils"
)

// Source fetches raw events for a time window from an external system.
// Network and auth failures must come back as transient errors.
type Source interface {
	ID() string
	FetchEvents(ctx context.Context, start, end time.Time) ([]models.TelemetryEvent, error)
}

// Ingestor is the gate the poller submits fetched events to.
type Ingestor interface {
	Ingest(ctx context.Context, ev models.TelemetryEvent) (ingest.Result, error)
}

// CursorStore persists the per-source watermark.
type CursorStore interface {
	GetCursor(ctx context.Context, sourceID string) (*models.PollingCursor, error)
	SetCursor(ctx context.Context, sourceID string, windowEnd time.Time) error
}

// Config carries the polling cadence knobs.
type Config struct {
	Interval             time.Duration
	MaxConsecutiveErrors int
	ErrorBackoff         time.Duration
	FirstRunLookback     time.Duration
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * c.Interval
	}
	if c.FirstRunLookback <= 0 {
		c.FirstRunLookback = 15 * time.Minute
	}
}

// Poller drives the fetch/ingest/advance cycle for one source. The cursor
// record is only written by this loop, but Status may be read concurrently
// by dashboards and tolerates observing a cycle in progress.
type Poller struct {
	logger *slog.Logger
	cfg    Config
	source Source
	gate   Ingestor
	store  CursorStore

	mu        sync.Mutex
	failures  int
	windowEnd time.Time
}

// New constructs a poller for one source.
func New(logger *slog.Logger, cfg Config, source Source, gate Ingestor, store CursorStore) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()
	return &Poller{
		logger: logger.With(slog.String("source_id", source.ID())),
		cfg:    cfg,
		source: source,
		gate:   gate,
		store:  store,
	}
}

// Run executes cycles until ctx is cancelled. Every wait is interruptible by
// the context, so shutdown never waits out a full interval.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", slog.Duration("interval", p.cfg.Interval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-timer.C:
		}

		if err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll cycle failed", slog.Any("error", err))
		}
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return
		}
		timer.Reset(p.NextWait())
	}
}

// RunCycle fetches the window since the cursor (or the first-run lookback),
// submits every event to the gate in source order, and advances the cursor
// on full success. Any failure leaves the cursor unchanged so the next cycle
// re-fetches the same window; downstream correlation tolerates the
// duplicate submissions.
func (p *Poller) RunCycle(ctx context.Context) error {
	end := time.Now().UTC()

	cursor, err := p.store.GetCursor(ctx, p.source.ID())
	if err != nil {
		return p.fail(utils.E(utils.KindPersistence, "poller", "read cursor", err))
	}

	start := end.Add(-p.cfg.FirstRunLookback)
	if cursor != nil && !cursor.WindowEnd.IsZero() {
		start = cursor.WindowEnd
	}

	events, err := p.source.FetchEvents(ctx, start, end)
	if err != nil {
		return p.fail(utils.E(utils.KindTransient, "poller", "fetch events", err))
	}

	for _, ev := range events {
		if _, err := p.gate.Ingest(ctx, ev); err != nil {
			if utils.IsKind(err, utils.KindValidation) {
				// A malformed upstream record is dropped, not retried.
				p.logger.Warn("skipping invalid source event", slog.Any("error", err))
				continue
			}
			return p.fail(err)
		}
	}

	if err := p.store.SetCursor(ctx, p.source.ID(), end); err != nil {
		return p.fail(utils.E(utils.KindPersistence, "poller", "advance cursor", err))
	}

	p.mu.Lock()
	p.failures = 0
	p.windowEnd = end
	p.mu.Unlock()

	metrics.ObservePollCycle(p.source.ID(), "success")
	p.logger.Debug("poll cycle complete",
		slog.Time("window_start", start),
		slog.Time("window_end", end),
		slog.Int("events", len(events)))
	return nil
}

func (p *Poller) fail(err error) error {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	metrics.ObservePollCycle(p.source.ID(), "error")
	if failures == p.cfg.MaxConsecutiveErrors {
		p.logger.Warn("entering error backoff",
			slog.Int("consecutive_failures", failures),
			slog.Duration("backoff", p.cfg.ErrorBackoff))
	}
	return err
}

// NextWait returns the delay before the next cycle: the error backoff once
// the consecutive-failure count has reached the threshold, the normal
// interval otherwise.
func (p *Poller) NextWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures >= p.cfg.MaxConsecutiveErrors {
		return p.cfg.ErrorBackoff
	}
	return p.cfg.Interval
}

// Status snapshots the cursor state for dashboards. The snapshot may trail a
// cycle in progress.
func (p *Poller) Status() models.PollingCursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.PollingCursor{
		SourceID:            p.source.ID(),
		WindowEnd:           p.windowEnd,
		ConsecutiveFailures: p.failures,
	}
}
