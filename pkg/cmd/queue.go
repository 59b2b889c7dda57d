// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/loki-platform/loki/pkg/channels/gochannel"
	"github.com/loki-platform/loki/pkg/channels/kafka"
	"github.com/loki-platform/loki/pkg/queue"
)

// NewQueue creates a task queue instance based on the provider. The
// service name scopes the Kafka consumer group so each binary drains
// its own share of the stream.
func NewQueue(provider, serviceName, kafkaBrokers string, logger *slog.Logger) queue.Queue {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, serviceName, strings.Split(kafkaBrokers, ","))
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return queue.NewWatermillQueue(pub, sub, logger)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return queue.NewWatermillQueue(pub, sub, logger)
	default:
		panic("Unsupported queue provider: " + provider)
	}
}
