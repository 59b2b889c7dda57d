// Package poller covers the gap webhook delivery leaves open: executions
// whose status callbacks never arrived are swept against the engine, and
// old terminal rows are purged on a retention schedule.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/reconciler"
)

// EngineReader reads execution state from the engine.
type EngineReader interface {
	GetExecution(ctx context.Context, engineExecutionID string) (*engine.ExecutionState, error)
}

// StatusApplier feeds swept state through the same reconciliation rule
// the webhook path uses.
type StatusApplier interface {
	ApplyEvent(ctx context.Context, source, externalRef string, payload map[string]any) (reconciler.ReconcileResult, error)
}

// Config holds the poller schedules. Cron entries include a seconds
// field.
type Config struct {
	SweepSchedule string
	PurgeSchedule string
	// GracePeriod is how long a pending or running execution may go
	// without an update before the sweep asks the engine about it.
	GracePeriod time.Duration
	SweepBatch  int
	// Retention is how long terminal executions are kept after they
	// finish.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepSchedule: "*/30 * * * * *",
		PurgeSchedule: "0 0 3 * * *",
		GracePeriod:   2 * time.Minute,
		SweepBatch:    100,
		Retention:     30 * 24 * time.Hour,
	}
}

type Poller struct {
	persistence persistence.Persistence
	engine      EngineReader
	reconciler  StatusApplier
	config      Config
	cron        *cron.Cron
	logger      *slog.Logger
}

func NewPoller(
	persist persistence.Persistence,
	engineClient EngineReader,
	statusApplier StatusApplier,
	config Config,
	logger *slog.Logger,
) *Poller {
	defaults := DefaultConfig()

	if config.SweepSchedule == "" {
		config.SweepSchedule = defaults.SweepSchedule
	}

	if config.PurgeSchedule == "" {
		config.PurgeSchedule = defaults.PurgeSchedule
	}

	if config.GracePeriod <= 0 {
		config.GracePeriod = defaults.GracePeriod
	}

	if config.SweepBatch <= 0 {
		config.SweepBatch = defaults.SweepBatch
	}

	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}

	return &Poller{
		persistence: persist,
		engine:      engineClient,
		reconciler:  statusApplier,
		config:      config,
		logger:      logger.With("module", "poller"),
	}
}

// Start schedules the sweep and purge jobs. It returns once the cron
// scheduler is running.
func (p *Poller) Start(ctx context.Context) error {
	p.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)

	if _, err := p.cron.AddFunc(p.config.SweepSchedule, func() {
		if _, err := p.Sweep(ctx); err != nil {
			p.logger.ErrorContext(ctx, "Status sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule status sweep: %w", err)
	}

	if _, err := p.cron.AddFunc(p.config.PurgeSchedule, func() {
		if _, err := p.Purge(ctx); err != nil {
			p.logger.ErrorContext(ctx, "Execution purge failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule execution purge: %w", err)
	}

	p.logger.InfoContext(ctx, "Starting poller",
		"sweep_schedule", p.config.SweepSchedule,
		"purge_schedule", p.config.PurgeSchedule,
		"grace_period", p.config.GracePeriod,
		"retention", p.config.Retention,
	)

	p.cron.Start()

	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (p *Poller) Stop(ctx context.Context) {
	p.logger.InfoContext(ctx, "Stopping poller")

	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// Sweep reconciles executions still pending or running whose last update
// is older than the grace period. It returns how many were brought up to
// date; per-execution failures are logged and skipped so one bad row
// cannot stall the sweep.
func (p *Poller) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-p.config.GracePeriod)

	stale, err := p.persistence.ExecutionRepository().ListStale(ctx,
		[]models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning},
		cutoff,
		p.config.SweepBatch,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale executions: %w", err)
	}

	swept := 0

	for _, exec := range stale {
		if err := p.sweepExecution(ctx, exec); err != nil {
			p.logger.WarnContext(ctx, "Failed to sweep execution",
				"execution_id", exec.ID,
				"external_ref", exec.ExternalRef,
				"error", err,
			)

			continue
		}

		swept++
	}

	if len(stale) > 0 {
		p.logger.InfoContext(ctx, "Status sweep finished", "stale", len(stale), "swept", swept)
	}

	return swept, nil
}

func (p *Poller) sweepExecution(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec.EngineID == "" {
		// The dispatch never brought back an engine id, so there is
		// nothing to ask the engine about.
		return errors.New("execution has no engine id")
	}

	state, err := p.engine.GetExecution(ctx, exec.EngineID)
	if err != nil {
		if engine.IsNotFound(err) {
			// The engine no longer knows the execution; no callback
			// will ever arrive. Close it out through the same rule.
			_, applyErr := p.reconciler.ApplyEvent(ctx, "poller", exec.ExternalRef, map[string]any{
				"status": "failed",
				"detail": "execution not found on engine",
			})

			return applyErr
		}

		return err
	}

	result, err := p.reconciler.ApplyEvent(ctx, "poller", exec.ExternalRef, state.Raw)
	if err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Swept execution status",
		"execution_id", exec.ID,
		"external_ref", exec.ExternalRef,
		"result", string(result),
	)

	return nil
}

// Purge deletes terminal executions that finished before the retention
// cutoff.
func (p *Poller) Purge(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-p.config.Retention)

	purged, err := p.persistence.ExecutionRepository().DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished executions: %w", err)
	}

	if purged > 0 {
		p.logger.InfoContext(ctx, "Purged finished executions", "purged", purged)
	}

	return purged, nil
}
