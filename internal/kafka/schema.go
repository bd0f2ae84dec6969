package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// SchemaRegistryClient is a simple client for interacting with a Confluent-compatible Schema Registry.
type SchemaRegistryClient interface {
	// GetSchemaID returns the ID for the given subject's schema.
	GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error)
}

// AvroSerializer converts event payloads to Avro bytes with a Confluent magic byte prefix.
// Schema IDs are looked up once per subject and schema fingerprint.
type AvroSerializer struct {
	registry SchemaRegistryClient

	mu  sync.Mutex
	ids map[string]int
}

func NewAvroSerializer(registry SchemaRegistryClient) *AvroSerializer {
	return &AvroSerializer{
		registry: registry,
		ids:      make(map[string]int),
	}
}

// Serialize converts a record (a map or struct matching schema) to Avro bytes.
// It follows the Confluent Wire Format:
// [Magic Byte (0)] [Schema ID (4 bytes)] [Avro Data]
func (s *AvroSerializer) Serialize(ctx context.Context, subject string, schema avro.Schema, record interface{}) ([]byte, error) {
	schemaID, err := s.schemaID(ctx, subject, schema)
	if err != nil {
		return nil, err
	}

	data, err := avro.Marshal(schema, record)
	if err != nil {
		return nil, fmt.Errorf("marshaling avro: %w", err)
	}

	// Confluent wire format: 1 byte magic + 4 bytes schema ID + data
	result := make([]byte, 5+len(data))
	result[0] = 0 // Magic byte
	binary.BigEndian.PutUint32(result[1:5], uint32(schemaID))
	copy(result[5:], data)

	return result, nil
}

func (s *AvroSerializer) schemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	key := fmt.Sprintf("%s/%x", subject, schema.Fingerprint())

	s.mu.Lock()
	id, ok := s.ids[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := s.registry.GetSchemaID(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("getting schema ID for subject %s: %w", subject, err)
	}

	s.mu.Lock()
	s.ids[key] = id
	s.mu.Unlock()
	return id, nil
}
