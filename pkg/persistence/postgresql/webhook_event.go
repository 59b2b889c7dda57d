package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

// WebhookEventRepository stores the audit trail of inbound callback deliveries.
type WebhookEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWebhookEventRepository creates a new webhook event repository.
func NewWebhookEventRepository(db *sql.DB, logger *slog.Logger) *WebhookEventRepository {
	return &WebhookEventRepository{db: db, logger: logger}
}

// Save inserts a webhook event record.
func (wer *WebhookEventRepository) Save(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate webhook event ID: %w", err)
		}

		event.ID = id.String()
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	query := `
		INSERT INTO webhook_events (id, source, external_ref, payload, received_at, processed_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = wer.db.ExecContext(ctx, query,
		event.ID,
		event.Source,
		event.ExternalRef,
		payloadJSON,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Result,
	)
	if err != nil {
		return fmt.Errorf("failed to save webhook event %s: %w", event.ID, err)
	}

	return nil
}

// GetByID retrieves a webhook event.
func (wer *WebhookEventRepository) GetByID(ctx context.Context, id string) (*models.WebhookEvent, error) {
	query := `
		SELECT id, source, external_ref, payload, received_at, processed_at, result
		FROM webhook_events
		WHERE id = $1
	`

	var (
		event       models.WebhookEvent
		payloadJSON []byte
		processedAt sql.NullTime
	)

	err := wer.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Source,
		&event.ExternalRef,
		&payloadJSON,
		&event.ReceivedAt,
		&processedAt,
		&event.Result,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWebhookEventNotFound
		}

		return nil, fmt.Errorf("failed to get webhook event %s: %w", id, err)
	}

	if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook payload: %w", err)
	}

	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}

	return &event, nil
}

// MarkProcessed records the outcome of processing a delivery.
func (wer *WebhookEventRepository) MarkProcessed(ctx context.Context, id, result string, processedAt time.Time) error {
	query := "UPDATE webhook_events SET processed_at = $2, result = $3 WHERE id = $1"

	res, err := wer.db.ExecContext(ctx, query, id, processedAt, result)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event %s processed: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark webhook event %s processed: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrWebhookEventNotFound
	}

	return nil
}
