package file

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

const webhookEventsKind = "webhook_events"

// WebhookEventRepository stores the audit trail of inbound deliveries.
type WebhookEventRepository struct {
	root string
}

// NewWebhookEventRepository creates a new webhook event repository.
func NewWebhookEventRepository(root string) *WebhookEventRepository {
	return &WebhookEventRepository{root: root}
}

// Save inserts a webhook event record.
func (wer *WebhookEventRepository) Save(_ context.Context, event *models.WebhookEvent) error {
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

	return writeRecord(wer.root, webhookEventsKind, event.ID, event)
}

// GetByID retrieves a webhook event.
func (wer *WebhookEventRepository) GetByID(_ context.Context, id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent

	err := readRecord(wer.root, webhookEventsKind, id, &event)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWebhookEventNotFound
		}

		return nil, err
	}

	return &event, nil
}

// MarkProcessed records the outcome of processing a delivery.
func (wer *WebhookEventRepository) MarkProcessed(ctx context.Context, id, result string, processedAt time.Time) error {
	event, err := wer.GetByID(ctx, id)
	if err != nil {
		return err
	}

	event.ProcessedAt = &processedAt
	event.Result = result

	return writeRecord(wer.root, webhookEventsKind, event.ID, event)
}
