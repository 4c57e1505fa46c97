package tools

import (
	"errors"
	"testing"
)

func schemaWith(props map[string]interface{}, required ...string) map[string]interface{} {
	req := make([]interface{}, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   req,
	}
}

func TestValidateArguments_RequiredAndTypes(t *testing.T) {
	schema := schemaWith(map[string]interface{}{
		"content": map[string]interface{}{"type": "string"},
		"count":   map[string]interface{}{"type": "integer"},
		"ratio":   map[string]interface{}{"type": "number"},
		"flag":    map[string]interface{}{"type": "boolean"},
	}, "content")

	cases := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{"valid full", map[string]interface{}{"content": "x", "count": float64(3), "ratio": 0.5, "flag": true}, false},
		{"missing required", map[string]interface{}{"count": float64(3)}, true},
		{"wrong string type", map[string]interface{}{"content": 42}, true},
		{"non-integer", map[string]interface{}{"content": "x", "count": 1.5}, true},
		{"integer as float64", map[string]interface{}{"content": "x", "count": float64(7)}, false},
		{"wrong bool", map[string]interface{}{"content": "x", "flag": "yes"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArguments(schema, tc.args)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !errors.Is(err, ErrInvalidArguments) {
				t.Fatalf("expected ErrInvalidArguments, got %v", err)
			}
		})
	}
}

func TestValidateArguments_Enum(t *testing.T) {
	schema := schemaWith(map[string]interface{}{
		"kind": map[string]interface{}{
			"type": "string",
			"enum": []string{"fact", "preference", "event"},
		},
	}, "kind")

	if err := ValidateArguments(schema, map[string]interface{}{"kind": "fact"}); err != nil {
		t.Fatalf("expected valid enum value, got %v", err)
	}
	if err := ValidateArguments(schema, map[string]interface{}{"kind": "opinion"}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments for enum miss, got %v", err)
	}
}

func TestValidateArguments_AdditionalProperties(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "string"},
		},
		"additionalProperties": false,
	}

	if err := ValidateArguments(schema, map[string]interface{}{"id": "a", "extra": 1}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected rejection of unexpected argument, got %v", err)
	}
	if err := ValidateArguments(schema, map[string]interface{}{"id": "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArguments_NilSchemaAccepts(t *testing.T) {
	if err := ValidateArguments(nil, map[string]interface{}{"anything": 1}); err != nil {
		t.Fatalf("nil schema should accept, got %v", err)
	}
}
