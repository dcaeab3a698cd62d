package tools

import (
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor reflects a JSON schema from the Go type of v. Fields without
// omitempty are required and unknown properties are rejected.
func SchemaFor(v any) json.RawMessage {
	r := &invopop.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	compiled, err := jsonschema.CompileString("tool_"+name+".json", string(schema))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: schema: %v", ErrInvalidDefinition, name, err)
	}
	return compiled, nil
}

func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var value any = map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &value); err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}
	}
	return schema.Validate(value)
}
