// Package reconciler applies externally reported status events to
// stored executions. It is the single write path for execution status:
// webhook deliveries and poller reads both land here, so idempotency
// and ordering rules exist exactly once.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/persistence"
)

// maxApplyAttempts bounds the re-read cycle when a concurrent writer
// wins the version race. Each attempt re-evaluates against fresh state.
const maxApplyAttempts = 3

type Reconciler struct {
	persistence persistence.Persistence
	registry    *MapperRegistry
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewReconciler(persist persistence.Persistence, registry *MapperRegistry, tracer trace.Tracer, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		persistence: persist,
		registry:    registry,
		tracer:      tracer,
		logger:      logger.With("module", "reconciler"),
	}
}

// ApplyEvent maps one source payload and applies it to the execution
// matching externalRef. Safe under redelivery and cross-process races:
// duplicates collapse to ResultAlreadyApplied, late conflicting
// terminals to ResultConflict, and every write is a versioned update.
func (r *Reconciler) ApplyEvent(ctx context.Context, source, externalRef string, payload map[string]any) (ReconcileResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "reconciler.apply_event",
		attribute.String(otelhelper.WebhookSourceKey, source),
		attribute.String(otelhelper.ExternalRefKey, externalRef),
	)
	defer span.End()

	mapper, err := r.registry.Lookup(source)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", NewEventError(source, externalRef, err)
	}

	event, err := mapper.Map(payload)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", NewEventError(source, externalRef, err)
	}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		result, err := r.applyOnce(ctx, source, externalRef, event)
		if err != nil {
			if persistence.IsVersionConflict(err) && attempt < maxApplyAttempts {
				r.logger.DebugContext(ctx, "Version race while applying event, re-reading",
					"source", source,
					"external_ref", externalRef,
					"attempt", attempt,
				)

				continue
			}

			otelhelper.SetError(span, err)

			return "", NewEventError(source, externalRef, err)
		}

		span.SetAttributes(attribute.String("loki.reconcile.result", string(result)))

		return result, nil
	}

	err = NewEventError(source, externalRef, fmt.Errorf("gave up after %d attempts: %w", maxApplyAttempts, persistence.ErrVersionConflict))
	otelhelper.SetError(span, err)

	return "", err
}

// RecordStep appends one step outcome to the execution matching
// externalRef without touching its status. Worker-executed actions
// report through here; there is no source payload to map.
func (r *Reconciler) RecordStep(ctx context.Context, externalRef string, step *models.StepResult) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "reconciler.record_step",
		attribute.String(otelhelper.ExternalRefKey, externalRef),
	)
	defer span.End()

	executions := r.persistence.ExecutionRepository()

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		exec, err := executions.GetByExternalRef(ctx, externalRef)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				err = ErrUnknownExecution
			}

			otelhelper.SetError(span, err)

			return fmt.Errorf("failed to record step for ref %s: %w", externalRef, err)
		}

		fresh := missingSteps(exec, []*models.StepResult{step})
		if len(fresh) == 0 {
			return nil
		}

		exec.AppendStepResults(time.Now().UTC(), fresh...)

		err = executions.Update(ctx, exec)
		if err == nil {
			return nil
		}

		if persistence.IsVersionConflict(err) && attempt < maxApplyAttempts {
			continue
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to record step for ref %s: %w", externalRef, err)
	}

	return fmt.Errorf("failed to record step for ref %s: %w", externalRef, persistence.ErrVersionConflict)
}

func (r *Reconciler) applyOnce(ctx context.Context, source, externalRef string, event *StatusEvent) (ReconcileResult, error) {
	executions := r.persistence.ExecutionRepository()

	exec, err := executions.GetByExternalRef(ctx, externalRef)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return "", ErrUnknownExecution
		}

		return "", err
	}

	now := time.Now().UTC()

	switch decide(exec.Status, event.Status) {
	case decisionInvalid:
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.Status, event.Status)

	case decisionConflict:
		r.logger.WarnContext(ctx, "Conflicting terminal status ignored, first terminal wins",
			"source", source,
			"external_ref", externalRef,
			"stored_status", exec.Status,
			"event_status", event.Status,
		)

		return ResultConflict, nil

	case decisionAlready:
		fresh := missingSteps(exec, event.Steps)
		if len(fresh) == 0 {
			r.logger.DebugContext(ctx, "Duplicate or stale event, nothing to apply",
				"source", source,
				"external_ref", externalRef,
				"stored_status", exec.Status,
				"event_status", event.Status,
			)

			return ResultAlreadyApplied, nil
		}

		exec.AppendStepResults(now, fresh...)

		if err := executions.Update(ctx, exec); err != nil {
			return "", err
		}

		return ResultAlreadyApplied, nil

	default:
		applyTransition(exec, event, now)
		exec.AppendStepResults(now, missingSteps(exec, event.Steps)...)

		if err := executions.Update(ctx, exec); err != nil {
			return "", err
		}

		r.logger.InfoContext(ctx, "Execution status applied",
			"source", source,
			"external_ref", externalRef,
			"status", exec.Status,
			"detail", exec.StatusDetail,
		)

		return ResultApplied, nil
	}
}

type decision int

const (
	decisionApply decision = iota
	decisionAlready
	decisionConflict
	decisionInvalid
)

// decide classifies the requested move. The machine is
// pending -> running -> {succeeded, failed, cancelled}; pending may
// skip straight to a terminal when the terminal callback outruns the
// running one. A running event landing after a terminal is a replay of
// history and collapses to a duplicate; only reopening to pending is
// rejected outright.
func decide(current, next models.ExecutionStatus) decision {
	if next == "" {
		return decisionAlready
	}

	if current.IsTerminal() {
		switch {
		case next == current:
			return decisionAlready
		case next.IsTerminal():
			return decisionConflict
		case next == models.ExecutionStatusRunning:
			return decisionAlready
		default:
			return decisionInvalid
		}
	}

	if next == current {
		return decisionAlready
	}

	if current == models.ExecutionStatusRunning && next == models.ExecutionStatusPending {
		return decisionAlready
	}

	return decisionApply
}

func applyTransition(exec *models.WorkflowExecution, event *StatusEvent, now time.Time) {
	exec.Status = event.Status

	if event.Detail != "" {
		exec.StatusDetail = event.Detail
	}

	if exec.EngineID == "" && event.EngineID != "" {
		exec.EngineID = event.EngineID
	}

	if event.Status == models.ExecutionStatusRunning && exec.StartedAt == nil {
		startedAt := now
		exec.StartedAt = &startedAt
	}

	if event.Status.IsTerminal() && exec.FinishedAt == nil {
		finishedAt := now
		exec.FinishedAt = &finishedAt
	}
}

// missingSteps drops incoming results already recorded with the same
// step id and status, keeping redelivered events from duplicating the
// step history.
func missingSteps(exec *models.WorkflowExecution, incoming []*models.StepResult) []*models.StepResult {
	if len(incoming) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(exec.StepResults))
	for _, result := range exec.StepResults {
		seen[result.StepID+"\x00"+result.Status] = struct{}{}
	}

	var fresh []*models.StepResult

	for _, result := range incoming {
		key := result.StepID + "\x00" + result.Status
		if _, duplicate := seen[key]; duplicate {
			continue
		}

		seen[key] = struct{}{}

		fresh = append(fresh, result)
	}

	return fresh
}
