package mcpserver

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
)

// inputSchema renders a definition's parameter list as a JSON Schema object.
func inputSchema(def cases.Definition) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(def.Params)),
	}
	for _, p := range def.Params {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if p.Default != nil {
			if raw, err := json.Marshal(p.Default); err == nil {
				prop.Default = raw
			}
		}
		if p.Type == cases.ParamInteger {
			prop.Minimum = floatPtr(0)
			if p.Name == "limit" {
				prop.Minimum = floatPtr(1)
			}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func emptyInputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
}

func floatPtr(f float64) *float64 { return &f }
