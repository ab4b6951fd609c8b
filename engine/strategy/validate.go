package strategy

import "fmt"

// validateOutput checks result against a decoded outputSchema (spec
// §4.6.1): {required:true} -> non-null; {type} -> typeof match;
// {type:'object', properties:{k:{required:true}}} -> all required keys
// present.
func validateOutput(result any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if required, _ := schema["required"].(bool); required && result == nil {
		return fmt.Errorf("output validation: result is required but was null")
	}
	wantType, _ := schema["type"].(string)
	if wantType != "" && result != nil {
		if !typeMatches(result, wantType) {
			return fmt.Errorf("output validation: expected type %q, got %T", wantType, result)
		}
	}
	if wantType == "object" {
		props, _ := schema["properties"].(map[string]any)
		obj, ok := result.(map[string]any)
		if !ok {
			return fmt.Errorf("output validation: expected object result, got %T", result)
		}
		for key, rawSpec := range props {
			spec, _ := rawSpec.(map[string]any)
			required, _ := spec["required"].(bool)
			if !required {
				continue
			}
			if _, present := obj[key]; !present {
				return fmt.Errorf("output validation: missing required property %q", key)
			}
		}
	}
	return nil
}

func typeMatches(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int64, float64, float32:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
