// Package events publishes audit events to downstream consumers. Publishing
// is best-effort: the audit log in the document store is the system of
// record, the event stream is a notification channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

const (
	defaultTopic        = "ledgerline.audit"
	defaultBatchTimeout = 100 * time.Millisecond
)

type (
	// Publisher emits audit events to a downstream stream.
	Publisher interface {
		// Publish emits one event. Implementations must not fail the calling
		// pipeline: errors are logged and swallowed.
		Publish(ctx context.Context, event *ledger.AuditEvent)

		// Close flushes and releases the underlying transport.
		Close() error
	}

	// Config holds event stream configuration.
	Config struct {
		// Enabled toggles publishing; when false the noop publisher is used.
		Enabled bool

		// Brokers is the Kafka broker address list.
		Brokers []string

		// Topic is the audit event topic.
		Topic string
	}

	// KafkaPublisher writes audit events to a Kafka topic as JSON, keyed by
	// entity so events for one entity stay ordered within a partition.
	KafkaPublisher struct {
		writer *kafka.Writer
		logger *slog.Logger
	}

	// NoopPublisher discards all events. Used when the event stream is
	// disabled and in tests.
	NoopPublisher struct{}
)

// Compile-time interface assertions.
var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*NoopPublisher)(nil)
)

// LoadConfig loads event stream configuration from environment variables with
// fallback to defaults. Publishing is disabled by default.
func LoadConfig() *Config {
	return &Config{
		Enabled: config.GetEnvBool("LEDGERLINE_EVENTS_ENABLED", false),
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("LEDGERLINE_KAFKA_BROKERS", "localhost:9092")),
		Topic:   config.GetEnvStr("LEDGERLINE_KAFKA_TOPIC", defaultTopic),
	}
}

// NewPublisher creates the publisher the configuration calls for: a Kafka
// publisher when enabled, the noop publisher otherwise.
func NewPublisher(cfg *Config, logger *slog.Logger) Publisher {
	if !cfg.Enabled {
		return &NoopPublisher{}
	}

	return NewKafkaPublisher(cfg, logger)
}

// NewKafkaPublisher creates a KafkaPublisher for the configured brokers and
// topic.
func NewKafkaPublisher(cfg *Config, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: defaultBatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish implements Publisher. Failures are logged, never returned: a broker
// outage must not fail an ingestion run.
func (p *KafkaPublisher) Publish(ctx context.Context, event *ledger.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode audit event",
			"event_id", event.ID,
			"event_type", event.Type.String(),
			"error", err,
		)

		return
	}

	msg := kafka.Message{
		Key:   []byte(event.Entity),
		Value: payload,
		Time:  event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish audit event",
			"event_id", event.ID,
			"event_type", event.Type.String(),
			"topic", p.writer.Topic,
			"error", err,
		)

		return
	}

	p.logger.Debug("Audit event published",
		"event_id", event.ID,
		"event_type", event.Type.String(),
		"entity", event.Entity,
		"period", event.Period,
	)
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}

	return nil
}

// Publish implements Publisher.
func (p *NoopPublisher) Publish(_ context.Context, _ *ledger.AuditEvent) {}

// Close implements Publisher.
func (p *NoopPublisher) Close() error { return nil }
