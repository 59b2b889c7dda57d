// Package queue is the work-queue boundary between the HTTP surface
// and the worker pool: producers enqueue {kind, payload} tasks, workers
// dequeue and invoke the handler registered for the kind. Delivery and
// redelivery are the transport's job; handlers decide between ack
// (done or permanently unprocessable) and nack (retry).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// TaskHandler processes one decoded task. A returned error nacks the
// message for redelivery.
type TaskHandler func(ctx context.Context, task any) error

type Publisher interface {
	Enqueue(ctx context.Context, key string, task Task) error
}

type Subscriber interface {
	Handle(kind TaskKind, handler TaskHandler) error
	Subscribe(ctx context.Context) error
}

type Queue interface {
	Publisher
	Subscriber
	Close() error
	GenerateID() string
}

type WatermillQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   map[TaskKind]TaskHandler
	logger     *slog.Logger
}

func NewWatermillQueue(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) Queue {
	return &WatermillQueue{
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[TaskKind]TaskHandler),
		logger:     logger.With("module", "queue"),
	}
}

func (q *WatermillQueue) GenerateID() string {
	return watermill.NewULID()
}

func (q *WatermillQueue) Enqueue(_ context.Context, key string, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	msg := message.NewMessage("task-"+q.GenerateID(), payload)
	msg.Metadata.Set(TaskKeyMetadataKey, key)
	msg.Metadata.Set(TaskKindMetadataKey, string(task.GetKind()))

	return q.publisher.Publish(Topic, msg)
}

func (q *WatermillQueue) Handle(kind TaskKind, handler TaskHandler) error {
	q.handlers[kind] = handler

	return nil
}

func (q *WatermillQueue) Subscribe(ctx context.Context) error {
	messages, err := q.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			kind := TaskKind(msg.Metadata.Get(TaskKindMetadataKey))

			handler, exists := q.handlers[kind]
			if !exists {
				msg.Ack()

				continue
			}

			var task any

			switch kind {
			case TaskKindProcessWebhook:
				task = &ProcessWebhookTask{}
			case TaskKindDispatchWorkflow:
				task = &DispatchWorkflowTask{}
			case TaskKindIntegrationAction:
				task = &IntegrationActionTask{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, task)
			if err != nil {
				q.logger.ErrorContext(ctx, "Dropping undecodable task",
					"task_kind", kind,
					"message_id", msg.UUID,
					"error", err,
				)
				msg.Ack()

				continue
			}

			err = handler(ctx, task)
			if err != nil {
				q.logger.WarnContext(ctx, "Task handler failed, message will be redelivered",
					"task_kind", kind,
					"message_id", msg.UUID,
					"error", err,
				)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (q *WatermillQueue) Close() error {
	err := q.publisher.Close()
	if err != nil {
		return err
	}

	return q.subscriber.Close()
}
