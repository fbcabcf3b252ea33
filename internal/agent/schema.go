package agent

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// validateAgainstSchema performs the validation the dispatch contract's
// step 2 needs: every required property present, and present properties
// matching the schema's declared JSON type. This is deliberately not a full
// JSON Schema validator (no $ref resolution, no format/pattern checks) —
// tool argument schemas here are always generated from a flat Go struct via
// llm.GenerateSchemaFrom, so a shallow required+type check catches the
// mistakes an LLM-produced call actually makes (missing or mistyped field),
// without pulling in a general-purpose validator for structure the schemas
// never use.
func validateAgainstSchema(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}

	var value map[string]any
	if len(args) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("args must be a JSON object: %w", err)
	}

	for _, name := range schema.Required {
		if _, ok := value[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}

	if schema.Properties == nil {
		return nil
	}

	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		fieldValue, present := value[pair.Key]
		if !present {
			continue
		}
		if err := checkType(pair.Key, pair.Value, fieldValue); err != nil {
			return err
		}
	}

	return nil
}

func checkType(field string, propSchema *jsonschema.Schema, value any) error {
	if propSchema == nil || propSchema.Type == "" || value == nil {
		return nil
	}

	switch propSchema.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string", field)
		}
	case "integer", "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("field %q must be a number", field)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean", field)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array", field)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object", field)
		}
	}
	return nil
}
