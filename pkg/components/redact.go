package components

import (
	"context"
	"errors"
	"fmt"

	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/engine/runtime"
	"github.com/Scopeo/draftnrun/pkg/policy"
)

// ErrContentBlocked marks text stopped by a deny-action content rule.
var ErrContentBlocked = errors.New("content blocked")

// redactComponent runs pattern rules over a text input and publishes the
// masked form. A deny rule match fails the node instead. Findings travel
// downstream without the matched text, so a redaction never re-leaks
// what it masked.
type redactComponent struct {
	scanner *policy.Scanner
}

func redactRegistration() engine.Registration {
	definition := domain.ComponentDefinition{
		Type:        TypeRedact,
		Description: "Masks or blocks text matching content rules.",
		Parameters: []domain.ParameterDefinition{
			{Name: "rules", Type: domain.ParamList, Nullable: true, Phases: []domain.ResolutionPhase{domain.PhaseConstructor}},
			{Name: "text", Type: domain.ParamString, Phases: []domain.ResolutionPhase{domain.PhaseRuntime}},
		},
		Ports: []domain.PortDefinition{
			{Name: "output", Direction: domain.PortOut, Canonical: true},
			{Name: "findings", Direction: domain.PortOut},
		},
	}

	return engine.Registration{
		Definition: definition,
		Factory:    newRedactComponent,
		Processors: []engine.ParamProcessor{engine.DefaultsProcessor(definition)},
	}
}

func newRedactComponent(_ context.Context, args map[string]any) (runtime.Component, error) {
	cfg := policy.DefaultRedactConfig()

	if raw, bound := args["rules"]; bound && raw != nil {
		entries, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("redact: rules must be a list")
		}
		rules := make([]policy.RedactRule, 0, len(entries))
		for i, entry := range entries {
			object, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("redact: rule %d must be an object", i)
			}
			rules = append(rules, policy.RedactRule{
				Name:        stringArg(object, "name", ""),
				Pattern:     stringArg(object, "pattern", ""),
				Action:      policy.Action(stringArg(object, "action", "")),
				Replacement: stringArg(object, "replacement", ""),
			})
		}
		cfg = policy.RedactConfig{Rules: rules}
	}

	scanner, err := policy.NewScanner(cfg)
	if err != nil {
		return nil, fmt.Errorf("redact: %w", err)
	}
	return &redactComponent{scanner: scanner}, nil
}

func (c *redactComponent) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	text, ok := inputs["text"].(string)
	if !ok {
		return nil, fmt.Errorf("redact: text input is required")
	}

	report, err := c.scanner.Scan(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("redact: %w", err)
	}

	if report.Blocked {
		for _, finding := range report.Findings {
			if finding.Action == policy.ActionDeny {
				return nil, fmt.Errorf("%w: rule %s", ErrContentBlocked, finding.Rule)
			}
		}
		return nil, ErrContentBlocked
	}

	findings := make([]any, 0, len(report.Findings))
	for _, finding := range report.Findings {
		findings = append(findings, map[string]any{
			"rule":   finding.Rule,
			"action": string(finding.Action),
			"start":  finding.Start,
			"end":    finding.End,
		})
	}

	return map[string]any{
		"output":   report.Redacted,
		"findings": findings,
	}, nil
}
