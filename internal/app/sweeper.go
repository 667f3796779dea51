package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"fleetalert/internal/clock"
	"fleetalert/internal/metrics"
)

const (
	sweepOutcomeOK      = "ok"
	sweepOutcomeSkipped = "skipped"
	sweepOutcomeError   = "error"
)

// SweepResult summarizes one auto-close sweep run.
// Params: processed/closed counters and skip flag.
// Returns: run totals for logging and tests.
type SweepResult struct {
	Skipped   bool
	Processed int
	Closed    int
}

// Sweeper runs the periodic batched auto-close scan. Overlapping runs are
// collapsed: a tick arriving while a sweep is in flight is dropped.
// Params: manager, batch size, and clock.
// Returns: scheduler entry point for the service loop.
type Sweeper struct {
	manager   *Manager
	batchSize int
	clock     clock.Clock
	logger    *slog.Logger

	running atomic.Bool
}

// NewSweeper builds the auto-close sweeper.
// Params: manager, batch size (falls back to 100), clock, logger.
// Returns: configured sweeper.
func NewSweeper(manager *Manager, batchSize int, clk clock.Clock, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		manager:   manager,
		batchSize: batchSize,
		clock:     clk,
		logger:    logger,
	}
}

// Sweep scans all active alerts in fixed-size batches and evaluates
// auto-close for each. A failing batch query ends the run early but the
// batches already processed keep their effects.
// Params: context bounding the whole run.
// Returns: run totals; Skipped=true when another sweep holds the flight slot.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("auto-close sweep already in flight, skipping tick")
		metrics.SweepRuns.WithLabelValues(sweepOutcomeSkipped).Inc()
		return SweepResult{Skipped: true}
	}
	defer s.running.Store(false)

	started := s.clock.Now()
	active, err := s.manager.ActiveAlerts(ctx)
	if err != nil {
		s.logger.Error("auto-close sweep query failed", "error", err.Error())
		metrics.SweepRuns.WithLabelValues(sweepOutcomeError).Inc()
		return SweepResult{}
	}

	result := SweepResult{}
	for start := 0; start < len(active); start += s.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + s.batchSize
		if end > len(active) {
			end = len(active)
		}
		batch := active[start:end]
		result.Closed += s.manager.BatchEvaluateAutoClose(ctx, batch)
		result.Processed += len(batch)
	}

	elapsed := s.clock.Now().Sub(started)
	metrics.SweepRuns.WithLabelValues(sweepOutcomeOK).Inc()
	metrics.SweepProcessed.Add(float64(result.Processed))
	metrics.SweepClosed.Add(float64(result.Closed))
	metrics.SweepDuration.Observe(elapsed.Seconds())
	s.logger.Info("auto-close sweep finished",
		"processed", result.Processed,
		"closed", result.Closed,
		"elapsed", elapsed.String())
	return result
}

// RetentionSweeper deletes alerts and audit entries older than the
// configured retention period.
// Params: stores via manager, retention days, and clock.
// Returns: scheduler entry point for the service loop.
type RetentionSweeper struct {
	manager *Manager
	days    int
	clock   clock.Clock
	logger  *slog.Logger
}

// NewRetentionSweeper builds the retention sweeper.
// Params: manager, retention period in days (falls back to 90), clock, logger.
// Returns: configured sweeper.
func NewRetentionSweeper(manager *Manager, days int, clk clock.Clock, logger *slog.Logger) *RetentionSweeper {
	if days <= 0 {
		days = 90
	}
	return &RetentionSweeper{
		manager: manager,
		days:    days,
		clock:   clk,
		logger:  logger,
	}
}

// Sweep removes data older than the retention threshold.
// Params: context bounding the deletes.
// Returns: deleted alert count; history delete failures only log.
func (r *RetentionSweeper) Sweep(ctx context.Context) int64 {
	threshold := r.clock.Now().Add(-time.Duration(r.days) * 24 * time.Hour)

	deletedAlerts, err := r.manager.alerts.DeleteOlderThan(ctx, threshold)
	if err != nil {
		r.logger.Error("retention sweep failed", "error", err.Error())
		return 0
	}
	deletedHistory, err := r.manager.history.DeleteHistoryOlderThan(ctx, threshold)
	if err != nil {
		r.logger.Error("retention history sweep failed", "error", err.Error())
	}
	if deletedAlerts > 0 || deletedHistory > 0 {
		r.logger.Info("retention sweep finished",
			"threshold", threshold.Format(time.RFC3339),
			"alerts_deleted", deletedAlerts,
			"history_deleted", deletedHistory)
	}
	return deletedAlerts
}
