package tools

import (
	"fmt"
	"math"
)

// ValidateArguments checks args against a JSON-schema style parameter
// object: required keys, primitive types, and enums. Unknown keys are
// rejected only when the schema sets additionalProperties to false.
func ValidateArguments(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	properties, _ := schema["properties"].(map[string]interface{})

	if required, ok := schema["required"].([]interface{}); ok {
		for _, raw := range required {
			key, ok := raw.(string)
			if !ok {
				continue
			}
			if _, present := args[key]; !present {
				return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, key)
			}
		}
	} else if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, key)
			}
		}
	}

	if additional, ok := schema["additionalProperties"].(bool); ok && !additional {
		for key := range args {
			if _, known := properties[key]; !known {
				return fmt.Errorf("%w: unexpected argument %q", ErrInvalidArguments, key)
			}
		}
	}

	for key, value := range args {
		propRaw, ok := properties[key]
		if !ok {
			continue
		}
		prop, ok := propRaw.(map[string]interface{})
		if !ok {
			continue
		}
		if err := validateValue(key, prop, value); err != nil {
			return err
		}
	}

	return nil
}

func validateValue(key string, prop map[string]interface{}, value interface{}) error {
	typeName, _ := prop["type"].(string)
	switch typeName {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: argument %q must be a string", ErrInvalidArguments, key)
		}
		if err := validateEnum(key, prop, s); err != nil {
			return err
		}
	case "number":
		if !isNumber(value) {
			return fmt.Errorf("%w: argument %q must be a number", ErrInvalidArguments, key)
		}
	case "integer":
		f, ok := asFloat(value)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("%w: argument %q must be an integer", ErrInvalidArguments, key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: argument %q must be a boolean", ErrInvalidArguments, key)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("%w: argument %q must be an array", ErrInvalidArguments, key)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("%w: argument %q must be an object", ErrInvalidArguments, key)
		}
	}
	return nil
}

func validateEnum(key string, prop map[string]interface{}, value string) error {
	enumRaw, ok := prop["enum"]
	if !ok {
		return nil
	}

	var allowed []string
	switch typed := enumRaw.(type) {
	case []interface{}:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				allowed = append(allowed, s)
			}
		}
	case []string:
		allowed = typed
	default:
		return nil
	}

	for _, candidate := range allowed {
		if candidate == value {
			return nil
		}
	}
	return fmt.Errorf("%w: argument %q must be one of %v", ErrInvalidArguments, key, allowed)
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
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
