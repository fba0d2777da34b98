package tools

import (
	"errors"
	"testing"
)

func TestValidateArgs(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string"},
			"count":   map[string]interface{}{"type": "integer"},
			"ratio":   map[string]interface{}{"type": "number"},
			"deep":    map[string]interface{}{"type": "boolean"},
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"fast", "slow"},
			},
		},
		"required": []interface{}{"command"},
	}

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{"valid minimal", map[string]interface{}{"command": "ls"}, false},
		{"valid full", map[string]interface{}{"command": "ls", "count": float64(3), "ratio": 0.5, "deep": true, "mode": "fast"}, false},
		{"missing required", map[string]interface{}{"count": float64(1)}, true},
		{"wrong type", map[string]interface{}{"command": 42}, true},
		{"non-integer number", map[string]interface{}{"command": "ls", "count": 1.5}, true},
		{"undeclared arg", map[string]interface{}{"command": "ls", "sneaky": "x"}, true},
		{"enum miss", map[string]interface{}{"command": "ls", "mode": "warp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs("test", schema, tt.args)
			if tt.wantErr {
				var sv *SchemaViolationError
				if !errors.As(err, &sv) {
					t.Errorf("expected SchemaViolationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateArgsNilSchema(t *testing.T) {
	if err := ValidateArgs("x", nil, map[string]interface{}{"anything": 1}); err != nil {
		t.Errorf("nil schema should accept anything, got %v", err)
	}
}
