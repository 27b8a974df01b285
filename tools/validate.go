package tools

import (
	"fmt"
)

// ValidationError reports malformed tool input. It is surfaced to callers
// as a distinct failure, never absorbed into the run the way node errors
// are.
type ValidationError struct {
	Tool    string
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("tool %q: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("tool %q: parameter %q: %s", e.Tool, e.Param, e.Message)
}

// ValidateInput checks input against the definition's parameter list and
// returns a copy with defaults filled in. A custom Validate func on the
// definition fully overrides this default validation.
func ValidateInput(def Definition, input map[string]any) (map[string]any, error) {
	if def.Validate != nil {
		if err := def.Validate(input); err != nil {
			return nil, &ValidationError{Tool: def.Name, Message: err.Error()}
		}
		return cloneInput(input), nil
	}

	out := cloneInput(input)
	for _, param := range def.Parameters {
		value, present := out[param.Name]
		if !present {
			if param.Required {
				return nil, &ValidationError{Tool: def.Name, Param: param.Name, Message: "required parameter is missing"}
			}
			if param.Default != nil {
				out[param.Name] = param.Default
			}
			continue
		}
		if !typeMatches(param.Type, value) {
			return nil, &ValidationError{
				Tool:    def.Name,
				Param:   param.Name,
				Message: fmt.Sprintf("expected %s, got %T", param.Type, value),
			}
		}
	}
	return out, nil
}

func typeMatches(declared ParamType, value any) bool {
	switch declared {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		switch value.(type) {
		case []any, []string, []float64:
			return true
		}
		return false
	default:
		return false
	}
}

func cloneInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
