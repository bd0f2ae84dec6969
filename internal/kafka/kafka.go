// Package kafka provides a thin wrapper around the franz-go Kafka client library,
// adapting it to publishing case change events.
//
// # Producer
//
// The [Producer] is synchronous: ProduceSync blocks until the broker
// acknowledges the message, so a publish error can be logged against the
// invocation that caused it.
//
// # franz-go Client
//
// We use github.com/twmb/franz-go as the Kafka client:
//
//   - Pure Go. No CGo dependency on librdkafka.
//   - Modern API with context-aware methods.
//   - SASL (PLAIN, SCRAM) and TLS dialing are built in.
//
// # Thread Safety
//
// The Producer is safe for concurrent use. The underlying franz-go client
// handles connection pooling and request serialization internally.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Producer wraps a franz-go client for producing messages to Kafka.
//
// The producer is configured with acks=all (RequiredAcks: -1) so that an
// event is replicated before it is reported as published.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a Kafka producer from the events configuration.
// The producer is ready to use immediately after construction.
func NewProducer(cfg config.EventsConfig, logger *slog.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()), // -1: wait for all in-sync replicas
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
		kgo.RetryTimeout(30 * time.Second),
		kgo.ProducerBatchMaxBytes(1 << 20), // 1 MiB
	}

	if cfg.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}

	if cfg.SASL.Mechanism != "" {
		mech, err := saslMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Kafka producer client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "kafka-producer"),
	}, nil
}

// buildTLSConfig loads the optional CA bundle and client key pair.
func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// saslMechanism maps the configured mechanism name to a franz-go mechanism.
func saslMechanism(cfg config.SASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
	}
}

// ProduceSync sends a single record to the specified Kafka topic and waits
// for broker acknowledgement.
//
// The method blocks until:
//   - The broker acknowledges the message (success).
//   - The context is cancelled.
//   - An unrecoverable error occurs.
//
// Parameters:
//   - topic: The Kafka topic to produce to.
//   - key: The message key (used for partitioning). Can be nil for round-robin.
//   - value: The message payload (JSON or Confluent-framed Avro).
//   - headers: Optional Kafka headers (e.g., action, invocation id).
func (p *Producer) ProduceSync(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	// Convert map headers to kgo headers.
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{
			Key:   k,
			Value: []byte(v),
		})
	}

	// ProduceSync blocks until the broker acknowledges or error.
	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("producing to %s: %w", topic, err)
	}

	p.logger.Debug("message produced",
		"topic", topic,
		"partition", results[0].Record.Partition,
		"offset", results[0].Record.Offset,
	)
	return nil
}

// Close flushes any pending messages and closes the Kafka connection.
func (p *Producer) Close() {
	p.client.Close()
}
