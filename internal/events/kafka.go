package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/kafka"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/observability"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/partition"
	"github.com/hamba/avro/v2"
)

// publishTimeout bounds a single produce call.
const publishTimeout = 10 * time.Second

type producer interface {
	ProduceSync(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close()
}

type serializer interface {
	Serialize(ctx context.Context, subject string, schema avro.Schema, record interface{}) ([]byte, error)
}

// KafkaPublisher produces case events to a single topic. Values are
// Confluent-framed Avro when a schema registry is configured and JSON
// otherwise.
type KafkaPublisher struct {
	producer    producer
	topic       string
	partitioner partition.Partitioner
	serializer  serializer
	schema      avro.Schema
	logger      *slog.Logger
}

// NewKafkaPublisher connects a producer for the events configuration.
func NewKafkaPublisher(cfg config.EventsConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(cfg, logger)
	if err != nil {
		return nil, err
	}

	var ser serializer
	if cfg.SchemaRegistryURL != "" {
		ser = kafka.NewAvroSerializer(kafka.NewHTTPRegistryClient(cfg.SchemaRegistryURL))
	}

	pub, err := newKafkaPublisher(p, cfg, ser, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return pub, nil
}

func newKafkaPublisher(p producer, cfg config.EventsConfig, ser serializer, logger *slog.Logger) (*KafkaPublisher, error) {
	pub := &KafkaPublisher{
		producer:    p,
		topic:       cfg.Topic,
		partitioner: partition.New(cfg.KeyStrategy, cfg.KeyFields),
		serializer:  ser,
		logger:      logger.With("component", "event-publisher", "topic", cfg.Topic),
	}
	if ser != nil {
		schema, err := kafka.GenerateAvroSchema("CaseEvent", payloadFields())
		if err != nil {
			return nil, fmt.Errorf("building case event schema: %w", err)
		}
		pub.schema = schema
	}
	return pub, nil
}

// Publish produces one event and waits for the broker acknowledgement. The
// produce call is detached from the caller's cancellation so an event for a
// completed mutation is still delivered when the invocation is abandoned.
func (k *KafkaPublisher) Publish(ctx context.Context, event CaseEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	value, contentType, err := k.encode(ctx, event)
	if err != nil {
		observability.Metrics.EventsErrorsTotal.WithLabelValues(k.topic, "encode").Inc()
		return fmt.Errorf("encoding case event: %w", err)
	}

	headers := map[string]string{
		"action":       event.Action,
		"content-type": contentType,
	}
	if event.InvocationID != "" {
		headers["invocation_id"] = event.InvocationID
	}

	key := k.partitioner.Key(event.Fields)
	if err := k.producer.ProduceSync(ctx, k.topic, key, value, headers); err != nil {
		observability.Metrics.EventsErrorsTotal.WithLabelValues(k.topic, "produce").Inc()
		return err
	}

	observability.Metrics.EventsPublishedTotal.WithLabelValues(k.topic, event.Action).Inc()
	k.logger.Debug("case event published",
		"action", event.Action,
		"sys_id", event.SysID(),
	)
	return nil
}

func (k *KafkaPublisher) encode(ctx context.Context, event CaseEvent) ([]byte, string, error) {
	payload := event.payload()
	if k.serializer != nil {
		b, err := k.serializer.Serialize(ctx, k.topic+"-value", k.schema, payload)
		return b, "application/vnd.confluent.avro", err
	}
	b, err := json.Marshal(payload)
	return b, "application/json", err
}

// Close flushes and closes the producer.
func (k *KafkaPublisher) Close() {
	k.producer.Close()
}
