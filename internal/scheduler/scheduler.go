// Package scheduler runs Kivuli's background maintenance on a cron
// schedule: recycling sandbox workers that have sat idle past a
// threshold, and purging execution history past its retention window.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/kivuli/internal/config"
	"github.com/jkaninda/kivuli/internal/history"
	"github.com/jkaninda/kivuli/internal/observability"
)

const purgeTimeout = 30 * time.Second

// WorkerPool is the slice of the supervisor the maintenance loop needs.
type WorkerPool interface {
	IdleFor() (time.Duration, bool)
	Reset()
}

// Maintenance owns the cron runner and the periodic housekeeping jobs.
type Maintenance struct {
	pool      WorkerPool
	store     history.Store // nil = no history purge
	metrics   *observability.MetricsCollector
	logger    *slog.Logger
	cfg       *config.MaintenanceConfig
	retention time.Duration

	cron *cron.Cron
}

// New creates the maintenance runner. store and metrics may be nil.
func New(
	pool WorkerPool,
	store history.Store,
	metrics *observability.MetricsCollector,
	logger *slog.Logger,
	cfg *config.MaintenanceConfig,
	retention time.Duration,
) *Maintenance {
	return &Maintenance{
		pool:      pool,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		retention: retention,
	}
}

// Start registers the tick job and starts the cron runner.
func (m *Maintenance) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.CronSchedule(), m.tick); err != nil {
		return fmt.Errorf("parsing maintenance schedule %q: %w", m.cfg.CronSchedule(), err)
	}
	c.Start()
	m.cron = c

	m.logger.Info("maintenance started",
		slog.String("schedule", m.cfg.CronSchedule()),
		slog.Duration("recycle_idle_after", m.cfg.RecycleIdleAfter()),
		slog.Duration("history_retention", m.retention),
	)
	return nil
}

// Stop halts the cron runner and waits for a running tick to finish.
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance stopped")
}

func (m *Maintenance) tick() {
	m.recycleIdleWorker()
	m.purgeHistory()
}

// recycleIdleWorker replaces the sandbox worker when it has been idle
// past the configured threshold. A fresh worker starts lazily on the
// next execution, so long-idle deployments hold no Deno process.
func (m *Maintenance) recycleIdleWorker() {
	threshold := m.cfg.RecycleIdleAfter()
	if threshold <= 0 {
		return
	}
	idle, alive := m.pool.IdleFor()
	if !alive || idle < threshold {
		return
	}

	m.pool.Reset()
	if m.metrics != nil {
		m.metrics.WorkerRecyclesTotal.WithLabelValues("idle").Inc()
	}
	m.logger.Info("idle worker recycled", slog.Duration("idle", idle))
}

// purgeHistory removes execution records older than the retention window.
func (m *Maintenance) purgeHistory() {
	if m.store == nil || m.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	removed, err := m.store.Purge(ctx, time.Now().UTC().Add(-m.retention))
	if err != nil {
		m.logger.Warn("history purge failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		if m.metrics != nil {
			m.metrics.HistoryPurgedTotal.Add(float64(removed))
		}
		m.logger.Info("history purged", slog.Int64("removed", removed))
	}
}
