// Package kafka handles event transport to and from the Kafka cluster.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/howkawgew/PlasmoSyncBot/pkg/metrics"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishSyncEvent publishes a sync outcome event to Kafka. Messages are
// keyed by identity so per-entity ordering survives partitioning.
func (p *Producer) PublishSyncEvent(ctx context.Context, event *models.SyncEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSyncEvent")
	defer span.End()

	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}
	if event.SchemaVersion == "" {
		event.SchemaVersion = "1.0"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Identity),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "guild_id", Value: []byte(event.GuildID)},
			{Key: "schema_version", Value: []byte(event.SchemaVersion)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish sync event")
		metrics.RecordKafkaPublish(p.topic, "error")
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "ok")
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"identity":   event.Identity,
		"guild_id":   event.GuildID,
	}).Debug("Published sync event")

	return nil
}

// PublishSyncEvents publishes multiple sync outcome events in a batch
func (p *Producer) PublishSyncEvents(ctx context.Context, events []*models.SyncEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSyncEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.EmittedAt.IsZero() {
			event.EmittedAt = time.Now().UTC()
		}
		if event.SchemaVersion == "" {
			event.SchemaVersion = "1.0"
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.Identity),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "guild_id", Value: []byte(event.GuildID)},
				{Key: "schema_version", Value: []byte(event.SchemaVersion)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish sync events batch")
		metrics.RecordKafkaPublish(p.topic, "error")
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "ok")
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published sync events batch")

	return nil
}
