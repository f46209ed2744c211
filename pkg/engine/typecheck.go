package engine

import (
	"fmt"
	"math"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
)

// checkType verifies a resolved value against the parameter's declared
// type. Numeric checks tolerate the float64 representation JSON decoding
// produces: an integral float64 satisfies an int parameter.
func checkType(param domain.ParameterDefinition, value any) error {
	if value == nil {
		if param.Nullable {
			return nil
		}
		return fmt.Errorf("%w: null value for non-nullable parameter", domain.ErrTypeMismatch)
	}

	switch param.Type {
	case domain.ParamString:
		if _, ok := value.(string); ok {
			return nil
		}
	case domain.ParamInt:
		if isInteger(value) {
			return nil
		}
	case domain.ParamFloat:
		if _, ok := asFloat(value); ok {
			return nil
		}
	case domain.ParamBool:
		if _, ok := value.(bool); ok {
			return nil
		}
	case domain.ParamList:
		if _, ok := value.([]any); ok {
			return nil
		}
	case domain.ParamJSON:
		if _, isComponent := value.(runtime.Component); !isComponent {
			return nil
		}
	case domain.ParamComponent:
		switch value.(type) {
		case runtime.Component, []runtime.Component:
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown declared type %q", domain.ErrTypeMismatch, param.Type)
	}

	return fmt.Errorf("%w: want %s, got %T", domain.ErrTypeMismatch, param.Type, value)
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == math.Trunc(v)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	default:
		return false
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
