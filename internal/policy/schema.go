package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaPolicy validates tool input against a per-tool JSON Schema before
// allowing the call. Tools without a registered schema are not covered.
type SchemaPolicy struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaPolicy compiles a map of tool name to JSON Schema document.
func NewSchemaPolicy(schemas map[string]string) (*SchemaPolicy, error) {
	compiled := make(map[string]*jsonschema.Schema, len(schemas))
	for tool, doc := range schemas {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("sessiond://tool/%s.json", tool)
		if err := compiler.AddResource(url, bytes.NewReader([]byte(doc))); err != nil {
			return nil, fmt.Errorf("schema for tool %s: %w", tool, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema for tool %s: %w", tool, err)
		}
		compiled[tool] = schema
	}
	return &SchemaPolicy{schemas: compiled}, nil
}

func (p *SchemaPolicy) Name() string  { return "input_schema" }
func (p *SchemaPolicy) Priority() int { return PrioritySchema }

func (p *SchemaPolicy) AppliesTo(tool string) bool {
	_, ok := p.schemas[tool]
	return ok
}

func (p *SchemaPolicy) Evaluate(ctx context.Context, req *Request) Decision {
	schema := p.schemas[req.Tool]
	var input any
	if err := unmarshalInput(req.Input, &input); err != nil {
		return Denied("tool input is not valid JSON: " + err.Error())
	}
	if err := schema.Validate(input); err != nil {
		return Denied("tool input rejected by schema: " + err.Error())
	}
	return Allowed()
}

func unmarshalInput(raw []byte, out *any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	return decoder.Decode(out)
}
