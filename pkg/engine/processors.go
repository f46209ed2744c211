package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Scopeo/draftnrun/pkg/domain"
)

// ParamProcessor is a pure transformation over constructor arguments,
// applied before the factory runs. Processors consume some arguments and
// produce or inject others; they run left to right and a later processor
// may overwrite keys a prior one produced.
type ParamProcessor func(ctx context.Context, args map[string]any) (map[string]any, error)

// applyProcessors runs the chain over a shallow copy of args so the
// caller's map is never mutated. Each processor receives the previous
// processor's result.
func applyProcessors(ctx context.Context, processors []ParamProcessor, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for i, process := range processors {
		next, err := process(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", i, err)
		}
		if next != nil {
			out = next
		}
	}
	return out, nil
}

// envPrefix marks string arguments whose value is read from the
// environment, the way secret references reach components without being
// persisted in graph configuration.
const envPrefix = "env:"

// ExpandEnvProcessor resolves string values of the form "env:NAME" to
// the value of the NAME environment variable, anywhere inside the
// argument tree: secrets usually live nested in header or value
// objects, not as top-level arguments. Unset variables fail
// construction rather than silently injecting an empty secret.
func ExpandEnvProcessor() ParamProcessor {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		for key, value := range args {
			expanded, err := expandEnvValue(value)
			if err != nil {
				return nil, fmt.Errorf("argument %q %w", key, err)
			}
			args[key] = expanded
		}
		return args, nil
	}
}

// expandEnvValue rebuilds containers instead of mutating them so a
// caller's nested maps never change under it.
func expandEnvValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.HasPrefix(v, envPrefix) {
			return v, nil
		}
		name := strings.TrimPrefix(v, envPrefix)
		resolved, found := os.LookupEnv(name)
		if !found {
			return nil, fmt.Errorf("references unset environment variable %q", name)
		}
		return resolved, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			expanded, err := expandEnvValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			expanded, err := expandEnvValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return value, nil
	}
}

// DefaultsProcessor injects declared parameter defaults for arguments the
// configuration left absent. The resolver already defaults bound
// instances; this processor covers components created directly through
// Registry.Create.
func DefaultsProcessor(def domain.ComponentDefinition) ParamProcessor {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		for _, p := range def.Parameters {
			if p.Default == nil {
				continue
			}
			if _, present := args[p.Name]; !present {
				args[p.Name] = p.Default
			}
		}
		return args, nil
	}
}
