package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidateArgs checks args against a JSON Schema subset: an object schema
// with typed properties, a required list and optional enums. Returns a
// *SchemaViolationError on the first mismatch.
func ValidateArgs(toolName string, schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	props, _ := schema["properties"].(map[string]interface{})

	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, _ := r.(string)
			if name == "" {
				continue
			}
			if _, present := args[name]; !present {
				return &SchemaViolationError{Tool: toolName, Field: name, Reason: "required argument missing"}
			}
		}
	}

	for name, value := range args {
		propSchema, known := props[name].(map[string]interface{})
		if !known {
			return &SchemaViolationError{Tool: toolName, Field: name, Reason: "argument not declared in schema"}
		}
		if err := validateValue(toolName, name, propSchema, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(toolName, field string, schema map[string]interface{}, value interface{}) error {
	wantType, _ := schema["type"].(string)
	if wantType != "" && !matchesType(wantType, value) {
		return &SchemaViolationError{
			Tool:   toolName,
			Field:  field,
			Reason: fmt.Sprintf("expected %s, got %T", wantType, value),
		}
	}

	if enum, ok := schema["enum"].([]interface{}); ok && len(enum) > 0 {
		for _, allowed := range enum {
			if value == allowed {
				return nil
			}
		}
		return &SchemaViolationError{
			Tool:   toolName,
			Field:  field,
			Reason: fmt.Sprintf("value %v not in enum %v", value, enum),
		}
	}
	return nil
}

// matchesType checks a decoded JSON value against a schema type name.
// JSON numbers decode as float64; "integer" additionally requires a whole
// value.
func matchesType(wantType string, value interface{}) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		f, ok := asFloat(value)
		return ok && f == math.Trunc(f)
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		// Unknown schema types are not enforced.
		return true
	}
}

func isNumber(value interface{}) bool {
	_, ok := asFloat(value)
	return ok
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
