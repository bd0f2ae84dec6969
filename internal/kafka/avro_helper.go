package kafka

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// AvroNamespace is the namespace of every generated event schema.
const AvroNamespace = "com.servicenow.casemcp"

// GenerateAvroSchema creates an Avro record schema whose fields are all
// optional strings. Event payloads are flat string maps, so a nullable string
// per field is enough to carry them.
func GenerateAvroSchema(name string, fields []string) (avro.Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("cannot generate schema with no fields")
	}

	avroFields := make([]*avro.Field, 0, len(fields))
	for _, f := range fields {
		// Create a union schema: ["null", "string"] to make the field optional.
		schema, err := avro.NewUnionSchema([]avro.Schema{
			&avro.NullSchema{},
			avro.NewPrimitiveSchema(avro.String, nil),
		})
		if err != nil {
			return nil, fmt.Errorf("creating union for %s: %w", f, err)
		}

		field, err := avro.NewField(f, schema, avro.WithDefault(nil))
		if err != nil {
			return nil, fmt.Errorf("creating field %s: %w", f, err)
		}
		avroFields = append(avroFields, field)
	}

	recordSchema, err := avro.NewRecordSchema(name, AvroNamespace, avroFields)
	if err != nil {
		return nil, fmt.Errorf("creating record schema: %w", err)
	}

	return recordSchema, nil
}
