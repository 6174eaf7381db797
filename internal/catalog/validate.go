package catalog

import (
	"github.com/murmurhq/murmur/internal/fault"
)

// ValidateArgs checks args against the tool's schema: every required
// field present, every provided field declared, and every value of the
// declared type. Validation failures are planner-level defects; the
// tool is never dispatched with arguments that fail here.
func (t *Tool) ValidateArgs(args map[string]any) error {
	for _, req := range t.Schema.Required {
		if _, ok := args[req]; !ok {
			return &fault.ValidationError{Tool: t.Name, Field: req, Reason: "required field missing"}
		}
	}

	for name, value := range args {
		prop, ok := t.Schema.Properties[name]
		if !ok {
			return &fault.ValidationError{Tool: t.Name, Field: name, Reason: "field not in schema"}
		}
		if err := checkType(t.Name, name, prop, value); err != nil {
			return err
		}
	}

	return nil
}

func checkType(tool, field string, prop Property, value any) error {
	if value == nil {
		return &fault.ValidationError{Tool: tool, Field: field, Reason: "null value"}
	}

	switch prop.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return typeErr(tool, field, "string")
		}
	case "number":
		if !isNumber(value) {
			return typeErr(tool, field, "number")
		}
	case "integer":
		// JSON decoding yields float64; accept whole floats.
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return typeErr(tool, field, "integer")
			}
		default:
			return typeErr(tool, field, "integer")
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeErr(tool, field, "boolean")
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return typeErr(tool, field, "array")
		}
		if prop.Items != nil {
			for _, el := range arr {
				elProp := Property{Type: prop.Items.Type}
				if err := checkType(tool, field, elProp, el); err != nil {
					return err
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return typeErr(tool, field, "object")
		}
	case "":
		// Untyped property: accept anything.
	default:
		return &fault.ValidationError{Tool: tool, Field: field, Reason: "schema declares unknown type " + prop.Type}
	}

	if len(prop.Enum) > 0 {
		for _, allowed := range prop.Enum {
			if value == allowed {
				return nil
			}
		}
		return &fault.ValidationError{Tool: tool, Field: field, Reason: "value not in enum"}
	}

	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64:
		return true
	}
	return false
}

func typeErr(tool, field, want string) error {
	return &fault.ValidationError{Tool: tool, Field: field, Reason: "expected " + want}
}
